package delsys

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pariterre/neurobiomech-software-sub000/internal/transport"
)

// dataLink is the minimal transport surface the data channel needs.
type dataLink interface {
	Read(buf []byte) error
	Close() error
}

// dataChannel reads one fixed-size frame of channelCount*sampleCount
// little-endian float32s per tick.
type dataChannel struct {
	link         dataLink
	channelCount int
	sampleCount  int
	bytesPerCh   int
}

func newDataChannel(host string, port, channelCount, sampleCount int) (*dataChannel, error) {
	link, err := transport.Dial(fmt.Sprintf("%s:%d", host, port), transport.DefaultConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("delsys: data channel dial: %w", err)
	}
	return &dataChannel{link: link, channelCount: channelCount, sampleCount: sampleCount, bytesPerCh: 4}, nil
}

func newDataChannelFromLink(link dataLink, channelCount, sampleCount int) *dataChannel {
	return &dataChannel{link: link, channelCount: channelCount, sampleCount: sampleCount, bytesPerCh: 4}
}

func (d *dataChannel) frameSize() int {
	return d.channelCount * d.sampleCount * d.bytesPerCh
}

// readFrame blocks for exactly one frame and decodes it into sampleCount
// rows of channelCount float64 each.
func (d *dataChannel) readFrame() ([][]float64, error) {
	buf := make([]byte, d.frameSize())
	if err := d.link.Read(buf); err != nil {
		return nil, fmt.Errorf("delsys: data read: %w", err)
	}

	frames := make([][]float64, d.sampleCount)
	offset := 0
	for i := 0; i < d.sampleCount; i++ {
		row := make([]float64, d.channelCount)
		for ch := 0; ch < d.channelCount; ch++ {
			bits := binary.LittleEndian.Uint32(buf[offset : offset+4])
			row[ch] = float64(math.Float32frombits(bits))
			offset += 4
		}
		frames[i] = row
	}
	return frames, nil
}

func (d *dataChannel) close() error {
	return d.link.Close()
}
