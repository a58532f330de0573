package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/apex/log"

	"denuncia-service/config"
	"denuncia-service/database"
	"denuncia-service/feed"
	"denuncia-service/handlers"
	"denuncia-service/listener"
	"denuncia-service/models"
	"denuncia-service/notifications"
	"denuncia-service/websocket"
)

// Service wires the database, change listener, websocket hub and handlers
// together and owns their lifecycle.
type Service struct {
	config   *config.Config
	db       *sql.DB
	hub      *websocket.Hub
	listener *listener.ChangeListener
	handlers *handlers.Handlers

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewService creates the service and its dependencies
func NewService(cfg *config.Config) (*Service, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}

	store := database.NewFeedStore(db)
	derivations := database.NewDerivationService(db)
	hub := websocket.NewHub()
	changeListener := listener.NewChangeListener(store, cfg.PollInterval)

	feedOpts := feed.Options{
		RadiusMeters: cfg.FeedRadiusMeters,
		MaxAge:       time.Duration(cfg.FeedMaxAgeHours) * time.Hour,
		Limit:        cfg.FeedLimit,
	}

	h := handlers.NewHandlers(derivations, store, changeListener, hub, notifications.NewRouter(), feedOpts)

	return &Service{
		config:   cfg,
		db:       db,
		hub:      hub,
		listener: changeListener,
		handlers: h,
		stopChan: make(chan struct{}),
	}, nil
}

// Start brings the service up: schema, hub, change listener, firehose bridge.
func (s *Service) Start() error {
	log.Info("Starting denuncia service...")

	if err := database.EnsureSchema(context.Background(), s.db); err != nil {
		return err
	}

	go s.hub.Run()

	if err := s.listener.Start(context.Background()); err != nil {
		return err
	}

	// Bridge the change stream into the firehose hub
	subID, events := s.listener.Subscribe()
	s.wg.Add(1)
	go s.firehoseLoop(subID, events)

	log.Info("Denuncia service started successfully")
	return nil
}

// Stop stops the service gracefully
func (s *Service) Stop() error {
	log.Info("Stopping denuncia service...")

	close(s.stopChan)
	s.listener.Stop()
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		log.WithError(err).Error("Error closing database")
	}

	log.Info("Denuncia service stopped")
	return nil
}

// GetHandlers returns the HTTP handlers
func (s *Service) GetHandlers() *handlers.Handlers {
	return s.handlers
}

// firehoseLoop forwards change events to every firehose client. Events are
// batched per poll tick by draining whatever is already buffered.
func (s *Service) firehoseLoop(subID int, events <-chan models.FeedEvent) {
	defer s.wg.Done()
	defer s.listener.Unsubscribe(subID)

	for {
		select {
		case <-s.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			batch := []models.FeedEvent{ev}
		drain:
			for {
				select {
				case next, ok := <-events:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			s.hub.BroadcastEvents(batch)
		}
	}
}
