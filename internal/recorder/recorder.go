// Package recorder writes session streams to JSON-lines files, one file per stream.
//
// Incoming values are moved off the session channel into an overlapping ring
// buffer as fast as they arrive; a separate goroutine drains the buffer to disk
// every FlushInterval. When the disk falls behind, the oldest buffered records
// are overwritten and counted instead of stalling the session fan-out.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/mcuadros/go-defaults"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/groutine"
)

// MaxBufferSize sets an upper limit on the buffer size to guard against accidental misconfiguration.
const MaxBufferSize uint32 = 1024 * 1024

const (
	stateIdle uint32 = iota
	stateRunning
	stateStopped
)

// Options configures a Recorder
type Options struct {
	Dir           string        `default:"./emg_data"`
	Prefix        string        // defaults to myo_data_<YYYYmmdd_HHMMSS>
	BufferSize    uint32        `default:"65536"`
	FlushInterval time.Duration `default:"500ms"`
}

type Option func(*Recorder)

func WithLogger(logger *logrus.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func WithDir(dir string) Option {
	return func(r *Recorder) { r.opts.Dir = dir }
}

func WithPrefix(prefix string) Option {
	return func(r *Recorder) { r.opts.Prefix = prefix }
}

func WithBufferSize(n uint32) Option {
	return func(r *Recorder) { r.opts.BufferSize = n }
}

func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) { r.opts.FlushInterval = d }
}

// Metrics counts records through the recorder
type Metrics struct {
	Recorded    int64 `json:"recorded"`    // accepted from the input channel
	Written     int64 `json:"written"`     // encoded to a file
	Overwritten int64 `json:"overwritten"` // lost to buffer overflow
	Errors      int64 `json:"errors"`
}

type streamFile struct {
	path string
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

// Recorder consumes a session stream channel and writes it to disk
type Recorder struct {
	opts   Options
	logger *logrus.Logger
	in     <-chan any

	buffer mpmc.RichOverlappedRingBuffer[Record]
	files  map[Stream]*streamFile // owned by the flush goroutine

	state       atomic.Uint32
	stop        chan struct{}
	collectDone <-chan struct{}
	flushDone   <-chan struct{}
	err         error // first fatal error, read after flushDone

	recorded    *xsync.Counter
	written     *xsync.Counter
	overwritten *xsync.Counter
	errors      *xsync.Counter
}

// New creates a recorder reading from in, typically a channel returned by
// session.Controller.Subscribe(Topics...)
func New(in <-chan any, opts ...Option) (*Recorder, error) {
	if in == nil {
		return nil, fmt.Errorf("input channel cannot be nil")
	}
	return newRecorder(in, opts...)
}

// NewSink creates a recorder fed through Offer, typically registered with
// session.Controller.AddSink. Values are taken straight from the decode path,
// so nothing is lost to fan-out channel capacity.
func NewSink(opts ...Option) (*Recorder, error) {
	return newRecorder(nil, opts...)
}

func newRecorder(in <-chan any, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		in:          in,
		files:       make(map[Stream]*streamFile),
		stop:        make(chan struct{}),
		recorded:    xsync.NewCounter(),
		written:     xsync.NewCounter(),
		overwritten: xsync.NewCounter(),
		errors:      xsync.NewCounter(),
	}
	defaults.SetDefaults(&r.opts)
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.New()
	}
	if r.opts.Prefix == "" {
		r.opts.Prefix = "myo_data_" + time.Now().Format("20060102_150405")
	}

	if r.opts.BufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if r.opts.BufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", r.opts.BufferSize, MaxBufferSize)
	}
	if r.opts.FlushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be > 0")
	}

	r.buffer = mpmc.NewOverlappedRingBuffer[Record](r.opts.BufferSize)
	return r, nil
}

// Path returns the file a stream is written to
func (r *Recorder) Path(s Stream) string {
	return filepath.Join(r.opts.Dir, fmt.Sprintf("%s_%s.json", r.opts.Prefix, s))
}

// Start creates the output directory and begins recording
func (r *Recorder) Start() error {
	if !r.state.CompareAndSwap(stateIdle, stateRunning) {
		return fmt.Errorf("recorder already started")
	}
	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		r.state.Store(stateStopped)
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"dir":    r.opts.Dir,
		"prefix": r.opts.Prefix,
		"buffer": r.opts.BufferSize,
	}).Info("Recording started")

	finished := (<-chan struct{})(r.stop)
	if r.in != nil {
		r.collectDone = groutine.Go(context.Background(), "myo-recorder-collect", func(context.Context) { r.collect() })
		finished = r.collectDone
	}
	r.flushDone = groutine.Go(context.Background(), "myo-recorder-flush", func(context.Context) { r.flushLoop(finished) })
	return nil
}

// Offer buffers one session value without blocking. Values that are not
// recordable, or that arrive outside Start and Stop, are ignored.
func (r *Recorder) Offer(v any) {
	if r.state.Load() != stateRunning {
		return
	}
	r.enqueue(v)
}

func (r *Recorder) collect() {
	for {
		select {
		case <-r.stop:
			return
		case v, ok := <-r.in:
			if !ok {
				return
			}
			r.enqueue(v)
		}
	}
}

func (r *Recorder) enqueue(v any) {
	rec, ok := FromEvent(v)
	if !ok {
		return
	}
	overwrites, err := r.buffer.EnqueueM(rec)
	if err != nil {
		r.errors.Inc()
		r.logger.WithError(err).Warn("Failed to buffer record")
		return
	}
	r.recorded.Inc()
	if overwrites > 0 {
		r.overwritten.Add(int64(overwrites))
	}
}

// flushLoop writes the buffer every FlushInterval until finished is closed
func (r *Recorder) flushLoop(finished <-chan struct{}) {
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-finished:
			r.flush()
			r.err = r.closeFiles()
			return
		}
	}
}

// flush drains the buffer into the stream files
func (r *Recorder) flush() {
	for !r.buffer.IsEmpty() {
		rec, err := r.buffer.Dequeue()
		if err != nil {
			break
		}
		if err := r.write(rec); err != nil {
			if r.errors.Value() == 0 {
				r.logger.WithFields(logrus.Fields{
					"stream": rec.Stream,
					"error":  err,
				}).Warn("Failed to write record")
			}
			r.errors.Inc()
			continue
		}
		r.written.Inc()
	}

	for s, sf := range r.files {
		if err := sf.w.Flush(); err != nil {
			r.errors.Inc()
			r.logger.WithFields(logrus.Fields{
				"stream": s,
				"error":  err,
			}).Warn("Failed to flush record file")
		}
	}
}

func (r *Recorder) write(rec Record) error {
	sf, ok := r.files[rec.Stream]
	if !ok {
		path := r.Path(rec.Stream)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		w := bufio.NewWriter(f)
		sf = &streamFile{path: path, f: f, w: w, enc: json.NewEncoder(w)}
		r.files[rec.Stream] = sf
		r.logger.WithField("path", path).Debug("Opened record file")
	}
	return sf.enc.Encode(rec)
}

func (r *Recorder) closeFiles() error {
	var errs []error
	for _, sf := range r.files {
		if err := sf.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", sf.path, err))
		}
		if err := sf.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", sf.path, err))
		}
	}
	return errors.Join(errs...)
}

// Stop stops collecting, writes everything still buffered and closes the files.
// It is safe to call more than once.
func (r *Recorder) Stop() error {
	if !r.state.CompareAndSwap(stateRunning, stateStopped) {
		if r.state.CompareAndSwap(stateIdle, stateStopped) {
			return nil
		}
		if r.flushDone != nil {
			<-r.flushDone
		}
		return nil
	}
	close(r.stop)
	<-r.flushDone

	m := r.Metrics()
	r.logger.WithFields(logrus.Fields{
		"written":     m.Written,
		"overwritten": m.Overwritten,
		"errors":      m.Errors,
	}).Info("Recording stopped")
	return r.err
}

// Files lists the files written. It returns nil until recording has stopped.
func (r *Recorder) Files() []string {
	if r.flushDone == nil {
		return nil
	}
	select {
	case <-r.flushDone:
	default:
		return nil
	}
	paths := make([]string, 0, len(r.files))
	for _, sf := range r.files {
		paths = append(paths, sf.path)
	}
	sort.Strings(paths)
	return paths
}

// Metrics returns a snapshot of the counters
func (r *Recorder) Metrics() Metrics {
	return Metrics{
		Recorded:    r.recorded.Value(),
		Written:     r.written.Value(),
		Overwritten: r.overwritten.Value(),
		Errors:      r.errors.Value(),
	}
}
