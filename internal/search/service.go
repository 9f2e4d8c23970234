package search

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"kosmarket/api/internal/store"
)

// Service keeps the index in step with approved listings. Every method is
// fire-and-forget and safe on a nil receiver or a nil index. Index writes
// run one at a time in submission order, so a delete queued after an add
// always lands last.
type Service struct {
	index  Index
	logger *zap.Logger
	wg     sync.WaitGroup

	mu       sync.Mutex
	queue    []func()
	draining bool
}

func NewService(index Index, logger *zap.Logger) *Service {
	return &Service{index: index, logger: logger.Named("search")}
}

func (s *Service) ready() bool {
	return s != nil && s.index != nil && s.index.Healthy()
}

// Publish indexes an approved listing. Other statuses are unpublished.
func (s *Service) Publish(listing store.Listing) {
	if listing.Status.Kind() != store.StatusApproved {
		s.Unpublish(listing.ID)
		return
	}
	if !s.ready() {
		return
	}
	record := FromListing(listing)
	s.async(func() {
		if err := s.index.IndexListings([]ListingRecord{record}); err != nil {
			s.logger.Warn("index listing", zap.Uint64("listing_id", record.ID), zap.Error(err))
		}
	})
}

func (s *Service) Unpublish(id uint64) {
	if !s.ready() {
		return
	}
	s.async(func() {
		if err := s.index.DeleteListing(id); err != nil {
			s.logger.Warn("delete listing from index", zap.Uint64("listing_id", id), zap.Error(err))
		}
	})
}

// ReindexAll republishes every approved listing. Called once at boot.
func (s *Service) ReindexAll(ctx context.Context, listings func(ctx context.Context) ([]store.Listing, error)) {
	if !s.ready() {
		return
	}
	approved, err := listings(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	records := make([]ListingRecord, 0, len(approved))
	for _, listing := range approved {
		if listing.Status.Kind() == store.StatusApproved {
			records = append(records, FromListing(listing))
		}
	}
	if err := s.index.IndexListings(records); err != nil {
		s.logger.Warn("reindex listings", zap.Int("count", len(records)), zap.Error(err))
		return
	}
	s.logger.Info("reindexed listings", zap.Int("count", len(records)))
}

// async queues fn behind earlier index writes. A single drain goroutine
// runs while the queue is non-empty.
func (s *Service) async(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wg.Add(1)
	s.queue = append(s.queue, fn)
	if !s.draining {
		s.draining = true
		go s.drain()
	}
}

func (s *Service) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
		s.wg.Done()
	}
}

// Wait blocks until in-flight index calls finish.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}
