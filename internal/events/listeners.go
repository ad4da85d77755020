package events

import (
	"context"

	"go.uber.org/zap"
)

// LogListener writes each event as a structured log line.
type LogListener struct {
	logger *zap.Logger
}

// NewLogListener wires a zap logger to the Listener interface.
func NewLogListener(logger *zap.Logger) *LogListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogListener{logger: logger}
}

// HandleEvent logs evt; errors are logged at warn level.
func (l *LogListener) HandleEvent(_ context.Context, evt Event) error {
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("type", string(evt.Type)),
		zap.String("calendar_id", evt.CalendarID),
		zap.Bool("from_cache", evt.FromCache),
		zap.Time("ts", evt.TS),
	}
	if evt.Type == TypeError {
		fields = append(fields, zap.String("error", evt.Error), zap.String("error_kind", string(evt.ErrorKind)))
		l.logger.Warn("calendar event", fields...)
		return nil
	}
	l.logger.Info("calendar event", fields...)
	return nil
}

// Recorder keeps the events it receives for later inspection.
type Recorder struct {
	ch chan Event
}

// NewRecorder buffers up to size events; further events are dropped.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 64
	}
	return &Recorder{ch: make(chan Event, size)}
}

// HandleEvent buffers evt without blocking.
func (r *Recorder) HandleEvent(_ context.Context, evt Event) error {
	select {
	case r.ch <- evt:
	default:
	}
	return nil
}

// Drain returns the buffered events in arrival order.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case evt := <-r.ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}
