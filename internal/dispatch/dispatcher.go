// Package dispatch drains the event queue and applies each event to the
// presentation layer on its own thread.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mpataki/automenu/internal/events"
	alog "github.com/mpataki/automenu/internal/log"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/protocol"
)

const DefaultPollInterval = 1500 * time.Millisecond

// Presenter is the transcript and controls the dispatcher drives. Its
// methods are only ever called through Marshal.
type Presenter interface {
	ClearTranscript()
	AppendLine(text string, sev events.Severity)
	EnableContinue()
}

// HandlerFunc serves one protocol request. The reply is only used for
// requests that expect one.
type HandlerFunc func(msg protocol.Message) (reply string, err error)

type Handlers map[protocol.Handler]HandlerFunc

// Responder writes a framed reply to the script that owns rec.
type Responder interface {
	Respond(rec *models.ExecutionRecord, payload string) error
}

type HistorySink interface {
	Add(*models.ExecutionRecord)
}

type Config struct {
	Queue     *events.Queue
	Presenter Presenter
	Handlers  Handlers
	Responder Responder
	History   HistorySink

	// Marshal runs fn on the presentation thread. Nil runs it inline.
	Marshal func(fn func())

	PollInterval time.Duration
	Logger       *slog.Logger
}

type Dispatcher struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// only touched by the consumer goroutine
	terminated bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Marshal == nil {
		cfg.Marshal = func(fn func()) { fn() }
	}
	if cfg.Handlers == nil {
		cfg.Handlers = Handlers{}
	}
	return &Dispatcher{
		cfg:    cfg,
		logger: alog.WithComponent(alog.OrDiscard(cfg.Logger), "dispatch"),
		now:    time.Now,
	}
}

// Start runs the consumer loop on a new goroutine. It is a no-op if the loop
// is already running.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		d.Run(ctx)
	}()
}

// Stop ends the loop and waits for it to exit. Events still queued stay
// queued; Drain applies them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run consumes events until ctx is cancelled or the queue is closed and
// empty.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := d.cfg.Queue.Pop(d.cfg.PollInterval)
		if !ok {
			if d.cfg.Queue.Closed() && d.cfg.Queue.Len() == 0 {
				return nil
			}
			continue
		}
		ev, ok = d.normalize(ev)
		if !ok {
			continue
		}
		d.dispatch(ev)
	}
}

// Drain dispatches everything currently queued without waiting.
func (d *Dispatcher) Drain() {
	for d.cfg.Queue.Len() > 0 {
		ev, ok := d.cfg.Queue.Pop(0)
		if !ok {
			return
		}
		if ev, ok = d.normalize(ev); ok {
			d.dispatch(ev)
		}
	}
}

// normalize fills in default severity and lifts framed protocol lines into
// protocol events. ok is false when the event should be dropped.
func (d *Dispatcher) normalize(ev events.Event) (events.Event, bool) {
	if ev.Kind != events.KindLine {
		return ev, true
	}
	if ev.Severity == "" {
		ev.Severity = events.SeverityInfo
	}
	if !protocol.Contains(ev.Text) {
		return ev, true
	}

	msg, err := protocol.Decode(ev.Text)
	if err != nil {
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			d.logger.Warn("dropping malformed protocol envelope", "payload", decErr.Payload, "error", decErr.Err)
		} else {
			d.logger.Warn("dropping protocol envelope", "line", ev.Text, "error", err)
		}
		return events.Event{}, false
	}
	return events.Protocol(ev.Record, msg), true
}

func (d *Dispatcher) dispatch(ev events.Event) {
	switch ev.Kind {
	case events.KindControl:
		d.dispatchControl(ev.Control)
	case events.KindProtocol:
		d.dispatchProtocol(ev.Record, ev.Message)
	case events.KindLine:
		d.dispatchLine(ev)
	}
}

func (d *Dispatcher) dispatchControl(kind events.ControlKind) {
	switch kind {
	case events.ControlClear:
		d.cfg.Marshal(d.cfg.Presenter.ClearTranscript)
	case events.ControlProcessTerminated:
		d.terminated = true
		d.logger.Debug("process terminated by user")
	default:
		d.logger.Warn("unknown control event", "control", kind.String())
	}
}

func (d *Dispatcher) dispatchProtocol(rec *models.ExecutionRecord, msg protocol.Message) {
	h, ok := d.cfg.Handlers[msg.Handler]
	if !ok {
		d.logger.Warn("no handler registered", alog.HandlerKey, msg.Handler.String())
		if msg.ExpectsReply() {
			d.respond(rec, msg, "")
		}
		return
	}

	d.cfg.Marshal(func() {
		reply, err := h(msg)
		if err != nil {
			d.logger.Warn("protocol handler failed", alog.HandlerKey, msg.Handler.String(), "error", err)
		}
		if msg.ExpectsReply() {
			d.respond(rec, msg, reply)
		}
	})
}

// respond always answers get-style requests; the script blocks on stdin
// until it sees a framed reply.
func (d *Dispatcher) respond(rec *models.ExecutionRecord, msg protocol.Message, reply string) {
	if d.cfg.Responder == nil {
		d.logger.Warn("no responder for request", alog.HandlerKey, msg.Handler.String())
		return
	}
	if err := d.cfg.Responder.Respond(rec, reply); err != nil {
		d.logger.Warn("failed to answer request", alog.HandlerKey, msg.Handler.String(), "error", err)
	}
}

func (d *Dispatcher) dispatchLine(ev events.Event) {
	terminated := d.terminated
	if ev.Finished {
		d.terminated = false
	}
	at := d.now()

	d.cfg.Marshal(func() {
		d.cfg.Presenter.AppendLine(ev.Text, ev.Severity)

		if ev.Record != nil && !ev.Severity.IsSystem() {
			ev.Record.AppendOutput(at, ev.Text)
		}

		switch {
		case ev.Breakpoint:
			if !terminated {
				d.cfg.Presenter.EnableContinue()
			}
		case ev.Finished:
			d.resetIndicators()
			if ev.Record != nil {
				ev.Record.MarkEnded(at)
				if d.cfg.History != nil {
					d.cfg.History.Add(ev.Record)
				}
			}
		}
	})
}

// finishCleanup is replayed through the handler table when a run ends so
// progress and status do not leak into the next run.
var finishCleanup = []protocol.Message{
	{Handler: protocol.HandlerHideProgress, Type: protocol.TypeProgress, Data: map[string]any{"set": "hide"}},
	{Handler: protocol.HandlerUpdateProgress, Type: protocol.TypeProgress, Data: map[string]any{"percent": 0.0}},
	{Handler: protocol.HandlerClearStatus, Type: protocol.TypeStatus, Data: map[string]any{"set": "clear"}},
}

// resetIndicators must run on the presentation thread.
func (d *Dispatcher) resetIndicators() {
	for _, msg := range finishCleanup {
		h, ok := d.cfg.Handlers[msg.Handler]
		if !ok {
			continue
		}
		if _, err := h(msg); err != nil {
			d.logger.Warn("finish cleanup failed", alog.HandlerKey, msg.Handler.String(), "error", err)
		}
	}
}
