package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgassist-backend/internal/models"
	"tgassist-backend/internal/store/memory"
)

// blockingSender rejects delivery for a chosen chat so one failing message
// can be observed next to succeeding ones.
type blockingSender struct {
	fakeSender
	mu        sync.Mutex
	blockChat int64
}

func (b *blockingSender) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	b.mu.Lock()
	blocked := chatID == b.blockChat
	b.mu.Unlock()
	if blocked {
		return errors.New("chat unreachable")
	}
	return b.fakeSender.SendMarkdown(ctx, chatID, text)
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers due messages and marks them sent", func(t *testing.T) {
		st := memory.NewMemoryStore(serviceConfig())
		sender := &fakeSender{}
		sched := NewScheduler(st, sender, time.Minute, time.Second)

		past := time.Now().Add(-time.Minute).Unix()
		future := time.Now().Add(time.Hour).Unix()
		_, err := st.AddDeferredMessage(ctx, 1, "пора", past)
		require.NoError(t, err)
		_, err = st.AddDeferredMessage(ctx, 1, "потом", future)
		require.NoError(t, err)

		sched.tick()

		sent := sender.sent()
		require.Len(t, sent, 1)
		assert.True(t, sent[0].Markdown)
		assert.Equal(t, scheduledMessageLabel+"пора", sent[0].Text)

		due, err := st.GetDueDeferredMessages(ctx, past)
		require.NoError(t, err)
		assert.Empty(t, due, "delivered message is marked sent")

		// A second tick must not redeliver.
		sched.tick()
		assert.Len(t, sender.sent(), 1)
	})

	t.Run("failing dispatch leaves the message pending and others unaffected", func(t *testing.T) {
		st := memory.NewMemoryStore(serviceConfig())
		sender := &blockingSender{blockChat: 1}
		sched := NewScheduler(st, sender, time.Minute, time.Second)

		past := time.Now().Add(-time.Minute).Unix()
		failingID, err := st.AddDeferredMessage(ctx, 1, "не дойдет", past)
		require.NoError(t, err)
		_, err = st.AddDeferredMessage(ctx, 2, "дойдет", past)
		require.NoError(t, err)

		sched.tick()

		sent := sender.sent()
		require.Len(t, sent, 1)
		assert.Equal(t, int64(2), sent[0].ChatID)

		due, err := st.GetDueDeferredMessages(ctx, time.Now().Unix())
		require.NoError(t, err)
		require.Len(t, due, 1, "undelivered message stays due")
		assert.Equal(t, failingID, due[0].ID)

		// Once the chat recovers, the next tick delivers it.
		sender.mu.Lock()
		sender.blockChat = 0
		sender.mu.Unlock()

		sched.tick()
		assert.Len(t, sender.sent(), 2)

		due, err = st.GetDueDeferredMessages(ctx, time.Now().Unix())
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("store query failure aborts only the pass", func(t *testing.T) {
		st := &failingDueStore{MemoryStore: memory.NewMemoryStore(serviceConfig()), fail: true}
		sender := &fakeSender{}
		sched := NewScheduler(st, sender, time.Minute, time.Second)

		sched.tick()
		assert.Empty(t, sender.sent())

		st.fail = false
		_, err := st.AddDeferredMessage(ctx, 1, "после сбоя", time.Now().Add(-time.Minute).Unix())
		require.NoError(t, err)

		sched.tick()
		assert.Len(t, sender.sent(), 1)
	})
}

type failingDueStore struct {
	*memory.MemoryStore
	fail bool
}

func (f *failingDueStore) GetDueDeferredMessages(ctx context.Context, now int64) ([]models.DeferredMessage, error) {
	if f.fail {
		return nil, errors.New("database unavailable")
	}
	return f.MemoryStore.GetDueDeferredMessages(ctx, now)
}

func TestSchedulerStartStop(t *testing.T) {
	st := memory.NewMemoryStore(serviceConfig())
	sender := &fakeSender{}
	sched := NewScheduler(st, sender, 10*time.Millisecond, time.Second)

	sched.Start()
	sched.Start() // second Start is a no-op

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop(), "stopping a stopped scheduler is a no-op")
}

// gatedSender signals when a dispatch starts and holds it until released,
// so a stop can be issued while a send is in flight.
type gatedSender struct {
	fakeSender
	started chan struct{}
	release chan struct{}
}

func (g *gatedSender) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	g.started <- struct{}{}
	<-g.release
	return g.fakeSender.SendMarkdown(ctx, chatID, text)
}

// ctxMarkStore refuses the mark-sent write on a dead context, the way a
// real database driver would.
type ctxMarkStore struct {
	*memory.MemoryStore
}

func (c *ctxMarkStore) MarkDeferredMessageSent(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryStore.MarkDeferredMessageSent(ctx, id)
}

func TestSchedulerStopDoesNotInterruptDispatch(t *testing.T) {
	ctx := context.Background()
	st := &ctxMarkStore{MemoryStore: memory.NewMemoryStore(serviceConfig())}
	sender := &gatedSender{started: make(chan struct{}, 1), release: make(chan struct{})}
	sched := NewScheduler(st, sender, time.Minute, time.Second)

	_, err := st.AddDeferredMessage(ctx, 1, "в полете", time.Now().Add(-time.Minute).Unix())
	require.NoError(t, err)

	sched.Start()
	<-sender.started // the first pass is now mid-dispatch

	stopErr := make(chan error, 1)
	go func() { stopErr <- sched.Stop() }()

	// Let the stop signal land, then allow the send to finish.
	time.Sleep(20 * time.Millisecond)
	close(sender.release)

	require.NoError(t, <-stopErr)

	sent := sender.sent()
	require.Len(t, sent, 1, "message delivered exactly once")

	due, err := st.GetDueDeferredMessages(ctx, time.Now().Unix())
	require.NoError(t, err)
	assert.Empty(t, due, "the dispatched message got its mark-sent write despite the stop")
}

func TestSchedulerStopIsBounded(t *testing.T) {
	st := memory.NewMemoryStore(serviceConfig())
	sched := NewScheduler(st, &fakeSender{}, time.Hour, 200*time.Millisecond)

	sched.Start()

	start := time.Now()
	require.NoError(t, sched.Stop())
	assert.Less(t, time.Since(start), time.Second)
}
