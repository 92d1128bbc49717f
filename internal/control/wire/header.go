// Package wire implements the control-plane's fixed 8-byte header framing
// and JSON payload shapes: every socket, every direction, speaks
// (u32 version, u32 code) big-endian, optionally followed by a
// length-prefixed JSON payload.
package wire

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the version this server/client pair negotiates at
// handshake.
const ProtocolVersion uint32 = 1

// HeaderSize is the fixed size of every frame's header, in bytes.
const HeaderSize = 8

// Header is the 8-byte (version, code) pair that prefixes every frame on
// every socket. code's meaning depends on direction: a command
// (client->server), a response (server->client ack), or a payload length
// (server->client data preamble).
type Header struct {
	Version uint32
	Code    uint32
}

// Encode serializes h as 8 big-endian bytes.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	binary.BigEndian.PutUint32(buf[4:8], h.Code)
	return buf
}

// DecodeHeader parses exactly HeaderSize bytes into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	return Header{
		Version: binary.BigEndian.Uint32(buf[0:4]),
		Code:    binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}
