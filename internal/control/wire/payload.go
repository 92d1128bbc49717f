package wire

import "github.com/pariterre/neurobiomech-software-sub000/internal/timeseries"

// Sample is the per-reading JSON shape nested inside TrialData.Data: an
// absolute microsecond timestamp alongside the channel values.
type Sample struct {
	Timestamp int64     `json:"timestamp"`
	Data      []float64 `json:"data"`
}

// TrialData is the GET_LAST_TRIAL_DATA JSON payload for one device: the
// trial's starting wall-clock instant, plus every retained sample as a
// [t_rel_us, Sample] pair.
type TrialData struct {
	StartingTime uint64        `json:"starting_time"`
	Data         []interface{} `json:"data"`
}

// EncodeTrialData converts a device's in-memory sample buffer into the
// wire's JSON-serializable shape.
func EncodeTrialData(ts *timeseries.TimeSeries) TrialData {
	out := TrialData{
		StartingTime: uint64(ts.StartingTime().UnixMicro()),
	}
	ts.Range(func(_ int64, s timeseries.Sample) bool {
		tRelUs := uint64(s.TRel.Microseconds())
		timestamp := ts.StartingTime().Add(s.TRel).UnixMicro()
		out.Data = append(out.Data, []interface{}{
			tRelUs,
			Sample{Timestamp: timestamp, Data: s.Channels},
		})
		return true
	})
	return out
}
