// Package feed maintains the geofenced public-report list one client sees:
// an initial bounded fetch around the client's location followed by
// incremental merges of change-stream events. Each websocket session owns
// one Synchronizer; nothing is shared across sessions.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"denuncia-service/geo"
	"denuncia-service/models"

	"github.com/apex/log"
)

// Store is the query surface the synchronizer needs from the database layer
type Store interface {
	GetPublicInBox(ctx context.Context, box geo.BoundingBox, since time.Time, limit int) ([]models.FeedItem, error)
	GetRecentPublic(ctx context.Context, since time.Time, limit int) ([]models.FeedItem, error)
}

// Session states
const (
	StateIdle     = "idle"
	StateFetching = "fetching"
	StateLive     = "live"
	StateClosed   = "closed"
)

// overFetchFactor absorbs bounding-box false positives: the box over-covers
// the circle, so the precise haversine filter discards some rows.
const overFetchFactor = 3

// loadAllLimit is the effective "unbounded" row cap for LoadAll
const loadAllLimit = 1000

// ErrClosed is returned when an operation hits a torn-down session
var ErrClosed = errors.New("feed session is closed")

// Options configures one feed session
type Options struct {
	RadiusMeters float64
	MaxAge       time.Duration
	Limit        int
}

// DefaultOptions mirror the mobile client's defaults
func DefaultOptions() Options {
	return Options{
		RadiusMeters: 200,
		MaxAge:       24 * time.Hour,
		Limit:        3,
	}
}

// Synchronizer keeps one session's item list consistent with
// "public AND in radius AND in age" across initial load and live events.
type Synchronizer struct {
	store Store
	opts  Options

	mu        sync.Mutex
	state     string
	centerLat float64
	centerLon float64
	items     []models.FeedItem
	hasMore   bool
	// events arriving while a load is in flight are parked here and
	// merged after the list is replaced, so none are lost to the race
	loading bool
	pending []models.FeedEvent
}

// NewSynchronizer creates an idle session
func NewSynchronizer(store Store, opts Options) *Synchronizer {
	if opts.Limit <= 0 {
		opts.Limit = DefaultOptions().Limit
	}
	if opts.RadiusMeters <= 0 {
		opts.RadiusMeters = DefaultOptions().RadiusMeters
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultOptions().MaxAge
	}
	return &Synchronizer{
		store: store,
		opts:  opts,
		state: StateIdle,
	}
}

// InitialLoad fixes the geofence center and performs the bounded first
// fetch. The caller may only subscribe to the change stream after this
// returns, so the session has a stable center before any event applies.
func (s *Synchronizer) InitialLoad(ctx context.Context, lat, lon float64) (models.FeedSnapshot, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return models.FeedSnapshot{}, ErrClosed
	}
	s.state = StateFetching
	s.centerLat = lat
	s.centerLon = lon
	s.loading = true
	s.pending = nil
	s.mu.Unlock()

	since := time.Now().Add(-s.opts.MaxAge)
	fetchLimit := s.opts.Limit * overFetchFactor

	box := geo.NewBoundingBox(lat, lon, s.opts.RadiusMeters)
	rows, err := s.store.GetPublicInBox(ctx, box, since, fetchLimit)
	if err != nil {
		// Bounded query failed; fall back to the plain recent-public query
		log.WithError(err).Warn("Bounded feed query failed, falling back to recent")
		rows, err = s.store.GetRecentPublic(ctx, since, fetchLimit)
		if err != nil {
			s.mu.Lock()
			s.loading = false
			s.state = StateIdle
			s.mu.Unlock()
			return models.FeedSnapshot{}, err
		}
	}

	filtered := s.filterInRange(rows, since)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		// session torn down while the fetch was in flight
		return models.FeedSnapshot{}, ErrClosed
	}

	s.hasMore = len(filtered) > s.opts.Limit
	if len(filtered) > s.opts.Limit {
		filtered = filtered[:s.opts.Limit]
	}
	s.items = filtered
	s.state = StateLive
	s.flushPendingLocked()

	return s.snapshotLocked(), nil
}

// LoadAll replaces the list with an effectively unbounded re-query.
// Events racing the fetch are buffered and merged afterwards.
func (s *Synchronizer) LoadAll(ctx context.Context) (models.FeedSnapshot, error) {
	s.mu.Lock()
	if s.state != StateLive {
		s.mu.Unlock()
		return models.FeedSnapshot{}, ErrClosed
	}
	lat, lon := s.centerLat, s.centerLon
	s.loading = true
	s.mu.Unlock()

	since := time.Now().Add(-s.opts.MaxAge)
	box := geo.NewBoundingBox(lat, lon, s.opts.RadiusMeters)
	rows, err := s.store.GetPublicInBox(ctx, box, since, loadAllLimit)
	if err != nil {
		// the fetch failed but the pre-fetch list is still current once
		// the events buffered during the fetch are merged into it
		s.mu.Lock()
		s.flushPendingLocked()
		s.mu.Unlock()
		return models.FeedSnapshot{}, err
	}

	filtered := s.filterInRange(rows, since)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLive {
		return models.FeedSnapshot{}, ErrClosed
	}

	s.items = filtered
	s.hasMore = false
	s.flushPendingLocked()

	return s.snapshotLocked(), nil
}

// ShowLess reverts to the truncated view without a re-query
func (s *Synchronizer) ShowLess() models.FeedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) > s.opts.Limit {
		s.hasMore = true
		s.items = s.items[:s.opts.Limit]
	}
	return s.snapshotLocked()
}

// ApplyEvent merges one change-stream event into the list. Events are
// independent idempotent merges: the stream orders events per record only,
// so nothing here assumes global sequencing.
func (s *Synchronizer) ApplyEvent(ev models.FeedEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLive {
		return false
	}
	if s.loading {
		s.pending = append(s.pending, ev)
		return false
	}
	return s.applyEventLocked(ev)
}

// Snapshot returns a copy of the current list
func (s *Synchronizer) Snapshot() models.FeedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the session state
func (s *Synchronizer) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the session down. Late events and in-flight fetch results
// are discarded after this returns.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.items = nil
	s.pending = nil
}

func (s *Synchronizer) applyEventLocked(ev models.FeedEvent) bool {
	since := time.Now().Add(-s.opts.MaxAge)

	switch ev.Type {
	case models.EventDelete:
		return s.removeLocked(ev.DenunciaID)

	case models.EventInsert:
		if ev.Item == nil || !s.passesLocked(*ev.Item, since) {
			return false
		}
		if s.indexOfLocked(ev.Item.ID) >= 0 {
			// already known, keep the existing entry
			return false
		}
		s.items = append([]models.FeedItem{*ev.Item}, s.items...)
		return true

	case models.EventUpdate:
		if ev.Item == nil {
			return s.removeLocked(ev.DenunciaID)
		}
		idx := s.indexOfLocked(ev.Item.ID)
		if !s.passesLocked(*ev.Item, since) {
			// moved out of the geofence or aged out
			if idx >= 0 {
				return s.removeLocked(ev.Item.ID)
			}
			return false
		}
		if idx >= 0 {
			// replace in place, position preserved
			s.items[idx] = *ev.Item
			return true
		}
		// became visible: treat as newly inserted
		s.items = append([]models.FeedItem{*ev.Item}, s.items...)
		return true
	}

	return false
}

func (s *Synchronizer) flushPendingLocked() {
	s.loading = false
	for _, ev := range s.pending {
		s.applyEventLocked(ev)
	}
	s.pending = nil
}

func (s *Synchronizer) passesLocked(item models.FeedItem, since time.Time) bool {
	if item.FechaCreacion.Before(since) {
		return false
	}
	d := geo.HaversineDistanceMeters(s.centerLat, s.centerLon, item.Latitude, item.Longitude)
	return d <= s.opts.RadiusMeters
}

func (s *Synchronizer) filterInRange(rows []models.FeedItem, since time.Time) []models.FeedItem {
	s.mu.Lock()
	lat, lon := s.centerLat, s.centerLon
	s.mu.Unlock()

	filtered := make([]models.FeedItem, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, item := range rows {
		if seen[item.ID] {
			continue
		}
		if item.FechaCreacion.Before(since) {
			continue
		}
		if geo.HaversineDistanceMeters(lat, lon, item.Latitude, item.Longitude) > s.opts.RadiusMeters {
			continue
		}
		seen[item.ID] = true
		filtered = append(filtered, item)
	}
	return filtered
}

func (s *Synchronizer) indexOfLocked(id string) int {
	for i, item := range s.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) removeLocked(id string) bool {
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return false
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return true
}

func (s *Synchronizer) snapshotLocked() models.FeedSnapshot {
	items := make([]models.FeedItem, len(s.items))
	copy(items, s.items)
	return models.FeedSnapshot{
		Items:   items,
		Count:   len(items),
		HasMore: s.hasMore,
	}
}
