// Package listener polls the change-feed table and fans events out to
// subscribers. It substitutes for a push-based change stream: mutations
// append rows to denuncia_changes and the poller turns them into ordered
// insert/update/delete events, checkpointing its position in service_state
// so a restart resumes instead of replaying.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"denuncia-service/database"
	"denuncia-service/models"

	"github.com/apex/log"
)

const subscriberBuffer = 64

// ChangeListener polls for new change rows and distributes them
type ChangeListener struct {
	store    *database.FeedStore
	interval time.Duration

	mu               sync.RWMutex
	subscribers      map[int]chan models.FeedEvent
	nextSubscriberID int
	lastProcessedSeq int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewChangeListener creates a new change listener
func NewChangeListener(store *database.FeedStore, interval time.Duration) *ChangeListener {
	return &ChangeListener{
		store:       store,
		interval:    interval,
		subscribers: make(map[int]chan models.FeedEvent),
		stopChan:    make(chan struct{}),
	}
}

// Start initializes the checkpoint and starts the poll loop
func (l *ChangeListener) Start(ctx context.Context) error {
	if err := l.initializeLastProcessedSeq(ctx); err != nil {
		return err
	}

	l.wg.Add(1)
	go l.pollLoop()

	log.Infof("Change listener started (interval %s, from seq %d)", l.interval, l.lastProcessedSeq)
	return nil
}

// Stop stops the poll loop and closes all subscriber channels
func (l *ChangeListener) Stop() {
	close(l.stopChan)
	l.wg.Wait()

	l.mu.Lock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
	l.mu.Unlock()

	log.Info("Change listener stopped")
}

// Subscribe registers a new event consumer. The returned channel is closed
// on Unsubscribe or Stop; a consumer that falls behind loses events rather
// than blocking the poll loop.
func (l *ChangeListener) Subscribe() (int, <-chan models.FeedEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSubscriberID++
	id := l.nextSubscriberID
	ch := make(chan models.FeedEvent, subscriberBuffer)
	l.subscribers[id] = ch

	log.Debugf("Feed subscriber %d registered (%d total)", id, len(l.subscribers))
	return id, ch
}

// Unsubscribe releases a consumer. Safe to call once per Subscribe; repeat
// calls for the same id are no-ops.
func (l *ChangeListener) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
		log.Debugf("Feed subscriber %d unregistered (%d total)", id, len(l.subscribers))
	}
}

// LastProcessedSeq returns the current checkpoint for health reporting
func (l *ChangeListener) LastProcessedSeq() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastProcessedSeq
}

// SubscriberCount returns the number of registered consumers
func (l *ChangeListener) SubscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers)
}

func (l *ChangeListener) initializeLastProcessedSeq(ctx context.Context) error {
	lastSeq, err := l.store.GetLastProcessedSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last processed seq: %w", err)
	}

	// No persisted state: start at the stream head, old changes are not
	// interesting to a fresh deployment.
	if lastSeq == 0 {
		latestSeq, err := l.store.GetLatestChangeSeq(ctx)
		if err != nil {
			return fmt.Errorf("failed to get latest change seq: %w", err)
		}
		lastSeq = latestSeq

		if err := l.store.UpdateLastProcessedSeq(ctx, lastSeq); err != nil {
			log.WithError(err).Warn("Failed to store initial checkpoint")
		}
	}

	l.mu.Lock()
	l.lastProcessedSeq = lastSeq
	l.mu.Unlock()
	return nil
}

func (l *ChangeListener) pollLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			if err := l.processChanges(); err != nil {
				log.WithError(err).Error("Failed to process changes")
			}
		}
	}
}

func (l *ChangeListener) processChanges() error {
	ctx := context.Background()

	l.mu.RLock()
	lastSeq := l.lastProcessedSeq
	l.mu.RUnlock()

	events, err := l.store.GetChangesSince(ctx, lastSeq)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		l.fanOut(ev)
	}

	newLastSeq := events[len(events)-1].Seq

	l.mu.Lock()
	l.lastProcessedSeq = newLastSeq
	l.mu.Unlock()

	// Best effort: the events were already delivered
	if err := l.store.UpdateLastProcessedSeq(ctx, newLastSeq); err != nil {
		log.WithError(err).Warn("Failed to persist checkpoint")
	}

	log.Debugf("Processed %d change events (seq %d-%d)", len(events), events[0].Seq, newLastSeq)
	return nil
}

func (l *ChangeListener) fanOut(ev models.FeedEvent) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for id, ch := range l.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warnf("Feed subscriber %d is not keeping up, dropping event %d", id, ev.Seq)
		}
	}
}
