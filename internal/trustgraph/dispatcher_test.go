package trustgraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andperez123/capnet/internal/model"
)

type recordingSink struct {
	mu      sync.Mutex
	events  []model.TrustEvent
	started chan struct{}
	release chan struct{}
}

func (s *recordingSink) Emit(_ context.Context, ev model.TrustEvent) model.EmitResult {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return model.EmitResult{Emitted: true, Status: 200}
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcher_DeliversAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, 2, zerolog.Nop())

	for i := 0; i < 5; i++ {
		d.Publish(AgentRegistered("agent:praxis:a", "operator:praxis:o"))
	}
	d.Close()
	d.Close()

	assert.Equal(t, 5, sink.count())
	assert.Zero(t, d.Dropped())
	for _, ev := range sink.events {
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.False(t, d.IsHealthy())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{started: make(chan struct{}, 4), release: make(chan struct{})}
	d := NewDispatcher(sink, 1, 1, zerolog.Nop())

	d.Publish(ConsoleVerified("first"))
	<-sink.started // worker is now blocked inside the sink

	d.Publish(ConsoleVerified("queued"))
	d.Publish(ConsoleVerified("dropped"))
	assert.EqualValues(t, 1, d.Dropped())

	close(sink.release)
	d.Close()
	assert.Equal(t, 2, sink.count())
}

func TestDispatcher_PublishAfterCloseDrops(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 4, 1, zerolog.Nop())
	d.Close()

	d.Publish(ConsoleVerified("late"))
	assert.EqualValues(t, 1, d.Dropped())
	assert.Zero(t, sink.count())
}

func TestDispatcher_CloseRacingPublishAccountsForEveryEvent(t *testing.T) {
	const publishers, perPublisher = 8, 200
	for round := 0; round < 20; round++ {
		sink := &recordingSink{}
		d := NewDispatcher(sink, 16, 2, zerolog.Nop())

		var wg sync.WaitGroup
		start := make(chan struct{})
		for p := 0; p < publishers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < perPublisher; i++ {
					d.Publish(ConsoleVerified("racer"))
				}
			}()
		}
		close(start)
		d.Close()
		wg.Wait()

		require.Equal(t, publishers*perPublisher, sink.count()+int(d.Dropped()), "round %d", round)
	}
}

func TestDispatcher_ShutdownHonoursContext(t *testing.T) {
	sink := &recordingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := NewDispatcher(sink, 4, 1, zerolog.Nop())
	d.Publish(ConsoleVerified("stuck"))
	<-sink.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	close(sink.release)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcher_NilIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Publish(ConsoleVerified("x"))
	d.Close()
	assert.Zero(t, d.Dropped())
}
