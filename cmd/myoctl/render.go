package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/srg/myoctl/internal/demux"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/recorder"
	"github.com/srg/myoctl/internal/session"
)

// Output formats of the stream command
const (
	formatText = "text"
	formatJSON = "json"
)

// renderer writes session stream values to the terminal
type renderer struct {
	w      io.Writer
	format string
	enc    *json.Encoder

	label  *color.Color
	pose   *color.Color
	synced *color.Color
	warn   *color.Color
}

func newRenderer(w io.Writer, format string) (*renderer, error) {
	switch format {
	case formatText, formatJSON:
	default:
		return nil, fmt.Errorf("invalid format %q: use text or json", format)
	}
	return &renderer{
		w:      w,
		format: format,
		enc:    json.NewEncoder(w),
		label:  color.New(color.FgCyan),
		pose:   color.New(color.FgYellow, color.Bold),
		synced: color.New(color.FgGreen),
		warn:   color.New(color.FgRed),
	}, nil
}

// jsonLine is one line of --format json output
type jsonLine struct {
	Stream string    `json:"stream"`
	At     time.Time `json:"timestamp"`
	Source string    `json:"source,omitempty"`
	Data   any       `json:"data"`
}

// Render writes one value. Values of unknown type are ignored.
func (r *renderer) Render(v any) error {
	if r.format == formatJSON {
		return r.renderJSON(v)
	}
	line, ok := r.text(v)
	if !ok {
		return nil
	}
	_, err := fmt.Fprintln(r.w, line)
	return err
}

func (r *renderer) renderJSON(v any) error {
	if sc, ok := v.(session.StateChange); ok {
		return r.enc.Encode(jsonLine{Stream: string(session.TopicSession), At: time.Now(), Data: sc})
	}
	rec, ok := recorder.FromEvent(v)
	if !ok {
		return nil
	}
	return r.enc.Encode(jsonLine{Stream: string(rec.Stream), At: rec.At, Source: rec.Source, Data: rec.Data})
}

func (r *renderer) text(v any) (string, bool) {
	ts := func(t time.Time) string { return t.Format("15:04:05.000") }

	switch e := v.(type) {
	case demux.EMGEvent:
		return fmt.Sprintf("%s %s %v %v", ts(e.Time()), r.label.Sprint("emg"), e.Frames[0], e.Frames[1]), true
	case demux.FVEvent:
		return fmt.Sprintf("%s %s %v mask=%#02x", ts(e.Time()), r.label.Sprint("fv "), e.Frame.Values, e.Frame.Mask), true
	case demux.IMUEvent:
		roll, pitch, yaw := e.Frame.Quaternion().Euler()
		acc := e.Frame.Acceleration()
		return fmt.Sprintf("%s %s rpy=(%+.2f %+.2f %+.2f) acc=(%+.2f %+.2f %+.2f)g",
			ts(e.Time()), r.label.Sprint("imu"), roll, pitch, yaw, acc[0], acc[1], acc[2]), true
	case demux.ClassifierEvent:
		return fmt.Sprintf("%s %s %s", ts(e.Time()), r.label.Sprint("cls"), r.classifier(e.Event)), true
	case demux.MotionEvent:
		return fmt.Sprintf("%s %s %s direction=%d count=%d",
			ts(e.Time()), r.label.Sprint("mot"), e.Event.Kind, e.Event.TapDirection, e.Event.TapCount), true
	case session.AggregatedData:
		return fmt.Sprintf("%s %s %s", ts(e.At), r.label.Sprint("agg"), e.Gesture), true
	case session.StateChange:
		return fmt.Sprintf("%s %s %s -> %s", ts(time.Now()), r.label.Sprint("ses"), e.From, e.To), true
	default:
		return "", false
	}
}

func (r *renderer) classifier(ev protocol.ClassifierEvent) string {
	switch ev.Kind {
	case protocol.EventPose:
		return "pose " + r.pose.Sprint(ev.Pose)
	case protocol.EventArmSynced:
		return r.synced.Sprintf("arm synced (%s arm, x %s)", ev.Arm, strings.ReplaceAll(ev.XDirection.String(), "_", " "))
	case protocol.EventSyncFailed:
		return r.warn.Sprintf("sync failed (%s)", ev.SyncResult)
	default:
		return ev.String()
	}
}

// parseTopics converts a comma separated --topics value
func parseTopics(s string) ([]session.Topic, error) {
	valid := map[session.Topic]bool{
		session.TopicEMG:        true,
		session.TopicFV:         true,
		session.TopicIMU:        true,
		session.TopicClassifier: true,
		session.TopicMotion:     true,
		session.TopicAggregated: true,
		session.TopicSession:    true,
	}

	var topics []session.Topic
	for _, part := range strings.Split(s, ",") {
		t := session.Topic(strings.ToLower(strings.TrimSpace(part)))
		if t == "" {
			continue
		}
		if !valid[t] {
			return nil, fmt.Errorf("invalid topic %q: use emg, fv, imu, classifier, motion, aggregated, or session", part)
		}
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics selected")
	}
	return topics, nil
}
