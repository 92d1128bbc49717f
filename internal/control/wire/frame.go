package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteHeader writes h as the 8-byte frame header.
func WriteHeader(w io.Writer, h Header) error {
	_, err := w.Write(h.Encode())
	return err
}

// ReadHeader reads exactly one 8-byte frame header.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	return DecodeHeader(buf)
}

// WritePayload writes a length-prefixed payload: a header whose Code is the
// payload's byte length, followed by the raw bytes. Used on the response
// and live-data sockets, where Code means "byte count" rather than a
// command/response enum.
func WritePayload(w io.Writer, version uint32, payload []byte) error {
	if err := WriteHeader(w, Header{Version: version, Code: uint32(len(payload))}); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadPayload reads one length-prefixed payload: the 8-byte header (whose
// Code is a byte count) followed by that many bytes.
func ReadPayload(r io.Reader) ([]byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Code == 0 {
		return nil, nil
	}
	const maxPayload = 64 << 20
	if h.Code > maxPayload {
		return nil, fmt.Errorf("wire: payload too large: %d bytes", h.Code)
	}
	buf := make([]byte, h.Code)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeBigEndianU32 is a helper for tests constructing raw frames by hand.
func EncodeBigEndianU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}
