package background

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/infrastructure/chunking"
)

type validatorFake struct{}

func (validatorFake) Validate(_ context.Context, file domain.SpreadsheetFile, progress domain.ProgressFunc) domain.ValidationResult {
	progress(10, "checking extension")
	progress(100, "done")
	return domain.ValidationResult{IsValid: file.Name == "orders.xlsx", RowCount: 3}
}

type parserFake struct {
	block chan struct{}
	err   error
	panic bool
}

func (p *parserFake) Parse(ctx context.Context, _ domain.SpreadsheetFile, progress domain.ProgressFunc) (*domain.ParseResult, error) {
	progress(10, "reading workbook")
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.panic {
		panic("corrupt state")
	}
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ParseResult{Summary: domain.ValidationSummary{Total: 2, Valid: 2}}, nil
}

func newReadyWorker(t *testing.T, parser *parserFake) *Worker {
	t.Helper()
	w := NewWorker(validatorFake{}, parser, chunking.DefaultPlan())
	t.Cleanup(w.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.WaitReady(ctx))
	require.Equal(t, StateIdle, w.State())
	return w
}

func drain(t *testing.T, reply <-chan Message) Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-reply:
			require.True(t, ok, "reply closed before terminal message")
			switch msg.(type) {
			case Complete, Failed:
				return msg
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal message")
		}
	}
}

func TestSubmitBeforeReadyFails(t *testing.T) {
	var w Worker
	_, err := w.Submit(ParseRequest{})
	require.ErrorIs(t, err, ErrNotReady)
}

func TestValidateForwardsProgress(t *testing.T) {
	w := newReadyWorker(t, &parserFake{})

	var percents []int
	result, err := w.Validate(context.Background(), domain.SpreadsheetFile{Name: "orders.xlsx"}, func(p int, _ string) {
		percents = append(percents, p)
	})
	require.NoError(t, err)
	require.True(t, result.IsValid)
	require.Equal(t, []int{10, 100}, percents)
	require.Equal(t, StateIdle, w.State())
}

func TestSubmitWhileProcessingIsRejected(t *testing.T) {
	parser := &parserFake{block: make(chan struct{})}
	w := newReadyWorker(t, parser)

	reply, err := w.Submit(ParseRequest{})
	require.NoError(t, err)
	require.Equal(t, StateProcessing, w.State())

	_, err = w.Submit(ValidateRequest{})
	require.ErrorIs(t, err, ErrBusy)

	close(parser.block)
	msg := drain(t, reply)
	require.IsType(t, Complete{}, msg)
	require.Equal(t, StateIdle, w.State())

	_, err = w.Validate(context.Background(), domain.SpreadsheetFile{Name: "orders.xlsx"}, nil)
	require.NoError(t, err)
}

func TestFailedRequestReturnsToIdle(t *testing.T) {
	w := newReadyWorker(t, &parserFake{err: errors.New("no data rows")})

	_, err := w.Parse(context.Background(), domain.SpreadsheetFile{}, nil)
	require.EqualError(t, err, "no data rows")
	require.Equal(t, StateIdle, w.State())
}

func TestPanicIsReportedAsFailure(t *testing.T) {
	w := newReadyWorker(t, &parserFake{panic: true})

	reply, err := w.Submit(ParseRequest{})
	require.NoError(t, err)
	msg := drain(t, reply)
	failed, ok := msg.(Failed)
	require.True(t, ok)
	require.Contains(t, failed.Details, "corrupt state")
	require.Equal(t, StateIdle, w.State())
}

func TestChunkUsesPlanWhenSizeUnset(t *testing.T) {
	w := newReadyWorker(t, &parserFake{})

	rows := make([]domain.OrderRow, 1200)
	chunks, err := w.Chunk(context.Background(), rows, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[2], 200)

	chunks, err = w.Chunk(context.Background(), rows, 700)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}

func TestWaitStopsWhenCallerContextEnds(t *testing.T) {
	parser := &parserFake{block: make(chan struct{})}
	w := newReadyWorker(t, parser)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := w.Parse(ctx, domain.SpreadsheetFile{}, nil)
	require.True(t, domain.IsKind(err, domain.ErrCancelled))

	// The request itself is not interrupted.
	require.Equal(t, StateProcessing, w.State())
	close(parser.block)
	require.Eventually(t, func() bool { return w.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
}

func TestResetAbandonsInFlightRequest(t *testing.T) {
	parser := &parserFake{block: make(chan struct{})}
	w := newReadyWorker(t, parser)

	stale, err := w.Submit(ParseRequest{})
	require.NoError(t, err)

	w.Reset()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.WaitReady(ctx))

	result, err := w.Validate(context.Background(), domain.SpreadsheetFile{Name: "orders.xlsx"}, nil)
	require.NoError(t, err)
	require.True(t, result.IsValid)

	msg := drain(t, stale)
	require.IsType(t, Failed{}, msg)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	w := NewWorker(validatorFake{}, &parserFake{}, chunking.DefaultPlan())
	w.Close()

	_, err := w.Submit(ValidateRequest{})
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, StateStopped, w.State())
}

func TestWaitReadyReturnsForEveryCaller(t *testing.T) {
	w := newReadyWorker(t, &parserFake{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, w.WaitReady(ctx))
	require.NoError(t, w.WaitReady(ctx))

	select {
	case msg := <-w.Ready():
		require.IsType(t, Ready{}, msg)
	case <-ctx.Done():
		t.Fatal("Ready message was consumed by WaitReady")
	}
	select {
	case msg := <-w.Ready():
		t.Fatalf("expected a single Ready message, got %T", msg)
	default:
	}
}

func TestWaitReadyAfterCloseFails(t *testing.T) {
	w := NewWorker(validatorFake{}, &parserFake{}, chunking.DefaultPlan())
	w.Close()

	require.ErrorIs(t, w.WaitReady(context.Background()), ErrStopped)
}
