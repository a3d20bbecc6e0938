package service

import (
	"context"
	"log/slog"
	"sync"

	"library-lending/internal/event"
	"library-lending/internal/model"
	"library-lending/internal/repository"
)

// AuditService persists every bus event as an audit entry.
type AuditService struct {
	store repository.AuditStore
	bus   event.Bus

	wg   sync.WaitGroup
	stop func()
}

func NewAuditService(store repository.AuditStore, bus event.Bus) *AuditService {
	return &AuditService{store: store, bus: bus}
}

// Start subscribes to the bus and writes entries until Stop is called.
func (s *AuditService) Start(ctx context.Context) {
	events, unsubscribe := s.bus.Subscribe()
	s.stop = unsubscribe

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range events {
			s.record(ctx, e)
		}
	}()
}

// Stop unsubscribes and waits for the queued events to be written.
func (s *AuditService) Stop() {
	if s.stop == nil {
		return
	}
	s.stop()
	s.wg.Wait()
	s.stop = nil
}

func (s *AuditService) record(ctx context.Context, e event.Event) {
	entry := model.AuditEntry{
		ID:         e.ID,
		Action:     string(e.Type),
		OccurredAt: e.OccurredAt,
		Actor:      e.Actor,
		Resource:   e.Resource,
		Details:    e.Payload,
	}
	// Entries outlive the request that produced them.
	if err := s.store.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("audit write failed", "event_id", e.ID, "action", e.Type, "error", err)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	return s.store.Query(ctx, query)
}
