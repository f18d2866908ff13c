package slot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
	"github.com/avioli/imagemin-glitch/pkg/logging"
)

type fakeGate struct{ full atomic.Bool }

func (g *fakeGate) Full() bool { return g.full.Load() }

type countObserver struct{ last atomic.Int64 }

func (o *countObserver) SetPendingSlots(n int) { o.last.Store(int64(n)) }

func TestIssueAndConsumeOnce(t *testing.T) {
	r := NewRegistry(nil, logging.NewTestLogger())

	token, err := r.Issue()
	require.NoError(t, err)

	id, err := uuid.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(6), id.Version())

	assert.True(t, r.Pending(token))
	assert.True(t, r.Consume(token))
	assert.False(t, r.Consume(token))
	assert.False(t, r.Consume(token))
	assert.False(t, r.Pending(token))
	assert.False(t, r.Consume("never-issued"))
}

func TestIssueRejectsWhenGateFull(t *testing.T) {
	gate := &fakeGate{}
	gate.full.Store(true)
	r := NewRegistry(gate, logging.NewTestLogger())

	_, err := r.Issue()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrQueueFull))
	assert.Equal(t, 0, r.Len())

	gate.full.Store(false)
	_, err = r.Issue()
	assert.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestIssueTokenSourceFailure(t *testing.T) {
	r := NewRegistry(nil, logging.NewTestLogger(), WithTokenSource(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))

	_, err := r.Issue()
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInternal, apperrors.Code(err))
	assert.False(t, apperrors.HasCode(err, apperrors.ErrQueueFull))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus())
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	r := NewRegistry(nil, logging.NewTestLogger())
	token, err := r.Issue()
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Consume(token) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSlotExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	obs := &countObserver{}

	seq := 0
	r := NewRegistry(nil, logging.NewTestLogger(),
		WithTTL(time.Minute),
		WithClock(clock),
		WithObserver(obs),
		WithTokenSource(func() (string, error) {
			seq++
			return fmt.Sprintf("t%d", seq), nil
		}),
	)

	old, _ := r.Issue()
	now = now.Add(45 * time.Second)
	fresh, _ := r.Issue()
	assert.Equal(t, int64(2), obs.last.Load())

	now = now.Add(20 * time.Second)
	assert.False(t, r.Pending(old), "slot past its ttl is not pending")
	assert.True(t, r.Pending(fresh))

	assert.Equal(t, 1, r.Sweep(now))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), obs.last.Load())

	now = now.Add(time.Minute)
	assert.False(t, r.Consume(fresh), "expired slot cannot be consumed")
	assert.Equal(t, 0, r.Len())
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	r := NewRegistry(nil, logging.NewTestLogger())
	_, _ = r.Issue()

	assert.Equal(t, 0, r.Sweep(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, r.Len())

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately without a ttl")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := NewRegistry(nil, logging.NewTestLogger(), WithTTL(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
