package recorder

import (
	"time"

	"github.com/srg/myoctl/internal/demux"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
)

// Stream names one output file. Files are named <prefix>_<stream>.json.
type Stream string

const (
	StreamEMG        Stream = "emg_data"
	StreamFV         Stream = "fv_data"
	StreamIMU        Stream = "imu_data"
	StreamClassifier Stream = "classifier_event"
	StreamMotion     Stream = "motion_event"
	StreamAggregated Stream = "aggregated_data"
)

// Topics are the session streams a recorder consumes
var Topics = []session.Topic{
	session.TopicEMG,
	session.TopicFV,
	session.TopicIMU,
	session.TopicClassifier,
	session.TopicMotion,
	session.TopicAggregated,
}

var _ session.Sink = (*Recorder)(nil)

// Record is one JSON line
type Record struct {
	Stream Stream    `json:"-"`
	At     time.Time `json:"timestamp"`
	Source string    `json:"source,omitempty"`
	Data   any       `json:"data"`
}

type emgRecord struct {
	Sample1 protocol.EMGFrame `json:"sample1"`
	Sample2 protocol.EMGFrame `json:"sample2"`
}

type imuRecord struct {
	Orientation   protocol.Quaternion `json:"orientation"`
	Accelerometer [3]float64          `json:"accelerometer"`
	Gyroscope     [3]float64          `json:"gyroscope"`
}

func sourceName(h protocol.Handle) string {
	if c, ok := protocol.LookupHandle(h); ok {
		return c.Name
	}
	return h.String()
}

// FromEvent converts a session stream value into a Record.
// Values that are not recorded, such as state changes, return false.
func FromEvent(v any) (Record, bool) {
	switch e := v.(type) {
	case demux.EMGEvent:
		return Record{Stream: StreamEMG, At: e.Time(), Source: sourceName(e.Source()),
			Data: emgRecord{Sample1: e.Frames[0], Sample2: e.Frames[1]}}, true
	case demux.FVEvent:
		return Record{Stream: StreamFV, At: e.Time(), Source: sourceName(e.Source()), Data: e.Frame}, true
	case demux.IMUEvent:
		return Record{Stream: StreamIMU, At: e.Time(), Source: sourceName(e.Source()), Data: imuRecord{
			Orientation:   e.Frame.Quaternion(),
			Accelerometer: e.Frame.Acceleration(),
			Gyroscope:     e.Frame.AngularVelocity(),
		}}, true
	case demux.ClassifierEvent:
		return Record{Stream: StreamClassifier, At: e.Time(), Source: sourceName(e.Source()), Data: e.Event}, true
	case demux.MotionEvent:
		return Record{Stream: StreamMotion, At: e.Time(), Source: sourceName(e.Source()), Data: e.Event}, true
	case session.AggregatedData:
		return Record{Stream: StreamAggregated, At: e.At, Data: e}, true
	default:
		return Record{}, false
	}
}
