package events

import (
	"encoding/json"
	"log"

	"crediflow/core/types"
)

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Broadcastable is implemented by payloads that flatten themselves into a
// wire-level event record for subscribers outside the engine process.
type Broadcastable interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers,
// merchant dashboards).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// LogEmitter writes every event to a standard logger. The daemon installs it
// as the default sink so operators can tail state changes without an indexer.
type LogEmitter struct {
	logger *log.Logger
}

// NewLogEmitter creates an emitter backed by the provided logger. A nil logger
// falls back to the process default.
func NewLogEmitter(logger *log.Logger) *LogEmitter {
	if logger == nil {
		logger = log.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements the Emitter interface by flattening the payload into its
// wire record and logging it as a single line.
func (l *LogEmitter) Emit(ev Event) {
	if l == nil || ev == nil {
		return
	}
	payload, ok := ev.(Broadcastable)
	if !ok {
		l.logger.Printf("event %s", ev.EventType())
		return
	}
	record := payload.Event()
	if record == nil {
		return
	}
	attributes, err := json.Marshal(record.Attributes)
	if err != nil {
		l.logger.Printf("event %s", record.Type)
		return
	}
	l.logger.Printf("event %s %s", record.Type, attributes)
}
