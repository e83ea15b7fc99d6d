package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tgassist-backend/internal/store"
)

const scheduledMessageLabel = "⏰ *Запланированное сообщение*\n\n"

// Scheduler is the background loop delivering deferred messages. Each tick
// queries the store for due, unsent rows and dispatches them; a message is
// marked sent only after the dispatch call succeeds. Per-message and
// per-tick failures are contained: nothing short of Stop terminates the
// loop.
//
// Stop is cooperative: the stop signal is checked only between ticks, and
// each tick runs on its own context, so an in-flight dispatch is never
// interrupted mid-flight. A send that already went out always gets its
// mark-sent write.
type Scheduler struct {
	store       store.Store
	sender      Sender
	interval    time.Duration
	stopTimeout time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(st store.Store, sender Sender, interval, stopTimeout time.Duration) *Scheduler {
	return &Scheduler{
		store:       st,
		sender:      sender,
		interval:    interval,
		stopTimeout: stopTimeout,
	}
}

// Start launches the background loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Println("WARN [Scheduler] Already running.")
		return
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.run()
	log.Printf("[Scheduler] Started, polling every %s.", s.interval)
}

// Stop signals the loop to finish and waits for acknowledgment up to the
// configured timeout. An in-flight tick is allowed to complete, including
// the mark-sent write of a dispatch that already went out.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		log.Println("WARN [Scheduler] Not running.")
		return nil
	}
	stopCh := s.stopCh
	done := s.done
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-done:
		log.Println("[Scheduler] Stopped.")
		return nil
	case <-time.After(s.stopTimeout):
		return fmt.Errorf("scheduler did not stop within %s", s.stopTimeout)
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First pass right away so messages due at startup are not delayed by
	// a full interval.
	s.tick()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick processes one scheduling pass on its own deadline, independent of
// the stop signal. A failing store query aborts only this pass; a failing
// dispatch leaves that message pending for the next tick and does not
// affect the others.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	due, err := s.store.GetDueDeferredMessages(ctx, timeNow().Unix())
	if err != nil {
		log.Printf("ERROR [Scheduler] Failed to query due messages: %v", err)
		return
	}

	for _, msg := range due {
		if err := s.sender.SendMarkdown(ctx, msg.UserID, scheduledMessageLabel+msg.Content); err != nil {
			log.Printf("ERROR [Scheduler] Failed to dispatch message #%d to user %d: %v", msg.ID, msg.UserID, err)
			continue
		}

		// Dispatch-then-mark: a crash in this window can resend the
		// message after restart, a marked row is never resent.
		if err := s.store.MarkDeferredMessageSent(ctx, msg.ID); err != nil {
			log.Printf("ERROR [Scheduler] Failed to mark message #%d sent: %v", msg.ID, err)
			continue
		}

		log.Printf("[Scheduler] Dispatched scheduled message #%d to user %d.", msg.ID, msg.UserID)
	}
}
