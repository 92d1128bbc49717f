package wire

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"
)

func TestHeaderRoundTrips(t *testing.T) {
	h := Header{Version: ProtocolVersion, Code: CmdStartRecording}
	buf := h.Encode()
	require.Len(t, buf, HeaderSize)

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderRejectsWrongLength(t *testing.T) {
	_, err := DecodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestEncodeTrialDataProducesTupleShapedSamples(t *testing.T) {
	ts := timeseries.New(2, 0, timeseries.WithFixedRate(10*time.Millisecond))
	_, err := ts.Append([]float64{1, 2})
	require.NoError(t, err)
	_, err = ts.Append([]float64{3, 4})
	require.NoError(t, err)

	td := EncodeTrialData(ts)
	require.Len(t, td.Data, 2)

	raw, err := json.Marshal(td)
	require.NoError(t, err)

	var decoded struct {
		StartingTime uint64            `json:"starting_time"`
		Data         []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Data, 2)

	var tuple []json.RawMessage
	require.NoError(t, json.Unmarshal(decoded.Data[0], &tuple))
	require.Len(t, tuple, 2)

	var tRel uint64
	require.NoError(t, json.Unmarshal(tuple[0], &tRel))
	require.Equal(t, uint64(0), tRel)

	var sample Sample
	require.NoError(t, json.Unmarshal(tuple[1], &sample))
	require.Equal(t, []float64{1, 2}, sample.Data)
}

func TestWritePayloadThenReadPayloadRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePayload(&buf, ProtocolVersion, []byte("hello")))

	got, err := ReadPayload(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestReadPayloadHandlesEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePayload(&buf, ProtocolVersion, nil))

	got, err := ReadPayload(&buf)
	require.NoError(t, err)
	require.Nil(t, got)
}
