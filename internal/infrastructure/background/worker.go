package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/chunking"
)

type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateProcessing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotReady = errors.New("background worker is not ready")
	ErrBusy     = errors.New("background worker is busy")
	ErrStopped  = errors.New("background worker is stopped")
)

// replyBuffer bounds queued progress messages per request. One slot is
// always kept free for the terminal message.
const replyBuffer = 32

type job struct {
	req   Request
	reply chan Message
}

// actor is one generation of the worker goroutine.
type actor struct {
	gen     uint64
	inbox   chan job
	ready   chan Message
	// started is closed once the actor accepts requests.
	started chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Worker runs validation, parsing and chunking on a dedicated goroutine so
// the caller stays responsive. It handles one request at a time and rejects
// anything submitted while busy.
type Worker struct {
	validator ports.FileValidator
	parser    ports.OrderParser
	plan      chunking.Plan

	mu      sync.Mutex
	state   State
	gen     uint64
	current *actor
}

func NewWorker(validator ports.FileValidator, parser ports.OrderParser, plan chunking.Plan) *Worker {
	w := &Worker{
		validator: validator,
		parser:    parser,
		plan:      plan,
	}
	w.mu.Lock()
	w.startLocked()
	w.mu.Unlock()
	return w
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Ready returns the lifecycle channel of the current actor. It yields a
// single Ready message once the actor accepts requests.
func (w *Worker) Ready() <-chan Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	return w.current.ready
}

// WaitReady blocks until the current actor accepts requests. It does not
// consume the Ready message, so any number of callers may wait.
func (w *Worker) WaitReady(ctx context.Context) error {
	w.mu.Lock()
	a := w.current
	w.mu.Unlock()
	if a == nil {
		return ErrStopped
	}
	select {
	case <-a.started:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands a request to the actor and returns the channel its messages
// arrive on.
func (w *Worker) Submit(req Request) (<-chan Message, error) {
	if req == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "background submit", errors.New("request is nil"))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateUninitialized:
		return nil, ErrNotReady
	case StateProcessing:
		return nil, ErrBusy
	case StateStopped:
		return nil, ErrStopped
	}

	reply := make(chan Message, replyBuffer)
	w.state = StateProcessing
	w.current.inbox <- job{req: req, reply: reply}
	return reply, nil
}

// Reset abandons the running actor, including any in-flight request, and
// starts a fresh one.
func (w *Worker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateStopped {
		return
	}
	w.stopLocked()
	w.startLocked()
	slog.Info("background_worker_reset", "generation", w.gen)
}

// Close stops the actor. Subsequent submits fail with ErrStopped.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.state == StateStopped || w.current == nil {
		w.state = StateStopped
		w.mu.Unlock()
		return
	}
	done := w.current.done
	w.stopLocked()
	w.state = StateStopped
	w.current = nil
	w.mu.Unlock()
	<-done
}

func (w *Worker) startLocked() {
	w.gen++
	ctx, cancel := context.WithCancel(context.Background())
	a := &actor{
		gen:     w.gen,
		inbox:   make(chan job, 1),
		ready:   make(chan Message, 1),
		started: make(chan struct{}),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	w.current = a
	w.state = StateUninitialized
	go w.run(ctx, a)
}

func (w *Worker) stopLocked() {
	if w.current != nil {
		w.current.cancel()
	}
}

// setState applies a transition only if a is still the current actor.
func (w *Worker) setState(a *actor, s State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != a.gen || w.state == StateStopped {
		return false
	}
	w.state = s
	return true
}

func (w *Worker) run(ctx context.Context, a *actor) {
	defer close(a.done)
	if !w.setState(a, StateIdle) {
		return
	}
	close(a.started)
	a.ready <- Ready{}

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-a.inbox:
			terminal := w.handle(ctx, j)
			// Idle before the terminal message so a caller reacting to it
			// can submit again immediately.
			w.setState(a, StateIdle)
			j.reply <- terminal
			close(j.reply)
		}
	}
}

func (w *Worker) handle(ctx context.Context, j job) (msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background_request_panic", "panic", r)
			msg = Failed{Err: fmt.Errorf("background request panicked: %v", r), Details: fmt.Sprint(r)}
		}
	}()

	progress := func(percent int, message string) {
		// Drop progress rather than block when nobody is reading.
		if len(j.reply) >= cap(j.reply)-1 {
			return
		}
		j.reply <- Progress{Percent: percent, Message: message}
	}

	switch req := j.req.(type) {
	case ValidateRequest:
		result := w.validator.Validate(ctx, req.File, progress)
		return Complete{Validation: &result}
	case ParseRequest:
		result, err := w.parser.Parse(ctx, req.File, progress)
		if err != nil {
			return Failed{Err: err, Details: err.Error()}
		}
		return Complete{Parse: result}
	case ChunkRequest:
		size := req.ChunkSize
		if size <= 0 {
			size = w.plan.ChunkSize(len(req.Rows))
		}
		chunks := chunking.Partition(req.Rows, size)
		progress(100, fmt.Sprintf("split %d rows into %d chunks", len(req.Rows), len(chunks)))
		return Complete{Chunks: chunks}
	default:
		err := fmt.Errorf("unsupported request %T", j.req)
		return Failed{Err: err, Details: err.Error()}
	}
}

// Validate runs a validation request and waits for its result. Progress is
// forwarded to progress when non-nil. The request keeps running if ctx ends
// first; its remaining messages are discarded.
func (w *Worker) Validate(ctx context.Context, file domain.SpreadsheetFile, progress domain.ProgressFunc) (domain.ValidationResult, error) {
	done, err := w.await(ctx, ValidateRequest{File: file}, progress)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if done.Validation == nil {
		return domain.ValidationResult{}, errors.New("background worker returned no validation result")
	}
	return *done.Validation, nil
}

func (w *Worker) Parse(ctx context.Context, file domain.SpreadsheetFile, progress domain.ProgressFunc) (*domain.ParseResult, error) {
	done, err := w.await(ctx, ParseRequest{File: file}, progress)
	if err != nil {
		return nil, err
	}
	if done.Parse == nil {
		return nil, errors.New("background worker returned no parse result")
	}
	return done.Parse, nil
}

func (w *Worker) Chunk(ctx context.Context, rows []domain.OrderRow, chunkSize int) ([][]domain.OrderRow, error) {
	done, err := w.await(ctx, ChunkRequest{Rows: rows, ChunkSize: chunkSize}, nil)
	if err != nil {
		return nil, err
	}
	return done.Chunks, nil
}

func (w *Worker) await(ctx context.Context, req Request, progress domain.ProgressFunc) (Complete, error) {
	reply, err := w.Submit(req)
	if err != nil {
		return Complete{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return Complete{}, domain.WrapError(domain.ErrCancelled, "background wait", ctx.Err())
		case msg, ok := <-reply:
			if !ok {
				return Complete{}, errors.New("background worker closed the reply channel without a result")
			}
			switch m := msg.(type) {
			case Progress:
				if progress != nil {
					progress(m.Percent, m.Message)
				}
			case Complete:
				return m, nil
			case Failed:
				return Complete{}, m.Err
			}
		}
	}
}
