package runtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ormasoftchile/flume/pkg/llm"
	"github.com/ormasoftchile/flume/pkg/schema"
)

// Event types emitted by the engine.
const (
	EventRunStart     = "run_start"
	EventStepStart    = "step_start"
	EventStepComplete = "step_complete"
	EventLLMCall      = "llm_call"
	EventError        = "error"
	EventRunComplete  = "run_complete"
)

// Event is one structured run event. Fields beyond Type and Timestamp are
// populated per event type.
type Event struct {
	Type       string      `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	Pipeline   string      `json:"pipeline,omitempty"`
	Step       string      `json:"step_name,omitempty"`
	Kind       schema.Kind `json:"kind,omitempty"`
	Model      string      `json:"model,omitempty"`
	Usage      *llm.Usage  `json:"usage,omitempty"`
	DurationMS float64     `json:"duration_ms,omitempty"`
	CostUSD    float64     `json:"cost_usd,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// EventSink receives run events. The engine takes one explicitly; there is
// no process-global logger. Sinks are called from the run's goroutine only.
type EventSink interface {
	Emit(Event)
}

// NopSink discards every event. It is the default sink.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// FileSink appends events as JSON lines. Each event is flushed and synced so
// the log survives a crash mid-run.
type FileSink struct {
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewFileSink opens (or creates) the event log at path for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	w := bufio.NewWriter(f)
	return &FileSink{file: f, writer: w, enc: json.NewEncoder(w)}, nil
}

// Emit appends one event. Encoding failures are swallowed: the event log is
// an observability surface and must never fail a run.
func (s *FileSink) Emit(e Event) {
	if err := s.enc.Encode(e); err != nil {
		return
	}
	s.writer.Flush()
	s.file.Sync()
}

// Close flushes and closes the log file.
func (s *FileSink) Close() error {
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// ChannelSink forwards events to a channel, dropping them when the receiver
// falls behind. The TUI consumes one of these.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a buffered channel sink.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(e Event) {
	select {
	case s.C <- e:
	default:
	}
}
