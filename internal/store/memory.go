package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type pendingKey struct {
	listingID uint64
	kind      RequestKind
}

// MemoryStore keeps everything in process memory behind one mutex, so every
// method is a single atomic step. It backs tests and DATABASE_URL-less runs.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   uint64
	listings map[uint64]Listing
	requests []Request
	// pending indexes requests by (listing, kind) while they await review.
	pending  map[pendingKey]int
	profiles map[string]UserProfile
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:      now,
		listings: make(map[uint64]Listing),
		pending:  make(map[pendingKey]int),
		profiles: make(map[string]UserProfile),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// tick returns the current time, never earlier than floor.
func (s *MemoryStore) tick(floor time.Time) time.Time {
	now := s.now().UTC()
	if now.Before(floor) {
		return floor
	}
	return now
}

func (s *MemoryStore) GetProfile(_ context.Context, principal string) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[principal]
	if !ok {
		return UserProfile{}, ErrNotFound
	}
	return profile, nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, profile UserProfile) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[profile.Principal]; ok {
		existing.Name = profile.Name
		s.profiles[profile.Principal] = existing
		return existing, nil
	}
	profile.CreatedAt = s.tick(time.Time{})
	s.profiles[profile.Principal] = profile
	return profile, nil
}

func (s *MemoryStore) InsertListing(_ context.Context, owner string, fields ListingFields) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.tick(time.Time{})
	listing := Listing{
		ID:            s.nextID,
		Owner:         owner,
		ListingFields: fields.Clone(),
		Status:        Pending(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.listings[listing.ID] = listing
	return listing.Clone(), nil
}

func (s *MemoryStore) GetListing(_ context.Context, id uint64) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[id]
	if !ok {
		return Listing{}, ErrNotFound
	}
	return listing.Clone(), nil
}

func (s *MemoryStore) ListListings(_ context.Context, filter ListingFilter) ([]Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Listing, 0, len(s.listings))
	for _, listing := range s.listings {
		if filter.matches(listing) {
			items = append(items, listing.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) TransitionListing(_ context.Context, id uint64, from StatusKind, to Status) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[id]
	if !ok {
		return Listing{}, ErrNotFound
	}
	if listing.Status.Kind() != from {
		return Listing{}, fmt.Errorf("listing %d is %s: %w", id, listing.Status.Kind(), ErrStateChanged)
	}
	listing.Status = to
	listing.UpdatedAt = s.tick(listing.UpdatedAt)
	s.listings[id] = listing
	return listing.Clone(), nil
}

func (s *MemoryStore) AppendListingPhoto(_ context.Context, id uint64, ref string) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[id]
	if !ok {
		return Listing{}, ErrNotFound
	}
	if listing.Status.Kind() != StatusPending {
		return Listing{}, fmt.Errorf("listing %d is %s: %w", id, listing.Status.Kind(), ErrStateChanged)
	}
	listing.ListingFields = listing.ListingFields.Clone()
	listing.Photos = append(listing.Photos, ref)
	listing.UpdatedAt = s.tick(listing.UpdatedAt)
	s.listings[id] = listing
	return listing.Clone(), nil
}

func (s *MemoryStore) InsertRequest(_ context.Context, in NewRequest) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[in.ListingID]
	if !ok {
		return Request{}, ErrNotFound
	}
	if listing.Owner != in.Owner {
		return Request{}, ErrNotOwner
	}
	key := pendingKey{listingID: in.ListingID, kind: in.Kind}
	if _, exists := s.pending[key]; exists {
		return Request{}, ErrPendingExists
	}

	request := Request{
		ID:        in.ID,
		Kind:      in.Kind,
		ListingID: in.ListingID,
		Owner:     in.Owner,
		Status:    Pending(),
		CreatedAt: s.tick(time.Time{}),
	}
	if in.Kind == RequestEdit {
		if in.Edited == nil {
			return Request{}, fmt.Errorf("edit request for listing %d has no payload", in.ListingID)
		}
		request.EditedListing = &ProposedListing{
			ID:            in.ListingID,
			Owner:         in.Owner,
			ListingFields: in.Edited.Clone(),
		}
	}

	s.requests = append(s.requests, request)
	s.pending[key] = len(s.requests) - 1
	return request.Clone(), nil
}

func (s *MemoryStore) ListRequests(_ context.Context, filter RequestFilter) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Request, 0)
	for _, request := range s.requests {
		if filter.matches(request) {
			items = append(items, request.Clone())
		}
	}
	return items, nil
}

// resolveLocked marks the pending request decided. It does not write when
// apply fails, so the request and listing change together or not at all.
func (s *MemoryStore) resolveLocked(listingID uint64, kind RequestKind, decision Decision, apply func(Request) error) (Request, error) {
	key := pendingKey{listingID: listingID, kind: kind}
	idx, ok := s.pending[key]
	if !ok {
		return Request{}, ErrNoPendingRequest
	}
	request := s.requests[idx]
	if err := apply(request); err != nil {
		return Request{}, err
	}
	reviewedAt := s.tick(request.CreatedAt)
	request.Status = decision.Status()
	request.ReviewedAt = &reviewedAt
	s.requests[idx] = request
	delete(s.pending, key)
	return request.Clone(), nil
}

func (s *MemoryStore) ResolveEditRequest(_ context.Context, listingID uint64, decision Decision) (Request, Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated Listing
	request, err := s.resolveLocked(listingID, RequestEdit, decision, func(request Request) error {
		listing, ok := s.listings[listingID]
		if !decision.Approved {
			if ok {
				updated = listing.Clone()
			}
			return nil
		}
		if !ok {
			return ErrNotFound
		}
		listing.ListingFields = request.EditedListing.ListingFields.Clone()
		listing.UpdatedAt = s.tick(listing.UpdatedAt)
		s.listings[listingID] = listing
		updated = listing.Clone()
		return nil
	})
	if err != nil {
		return Request{}, Listing{}, err
	}
	return request, updated, nil
}

func (s *MemoryStore) ResolveDeleteRequest(_ context.Context, listingID uint64, decision Decision) (Request, Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected Listing
	request, err := s.resolveLocked(listingID, RequestDelete, decision, func(Request) error {
		listing, ok := s.listings[listingID]
		if !decision.Approved {
			if ok {
				affected = listing.Clone()
			}
			return nil
		}
		if !ok {
			return ErrNotFound
		}
		affected = listing.Clone()
		delete(s.listings, listingID)
		s.closeEditRequestLocked(listingID)
		return nil
	})
	if err != nil {
		return Request{}, Listing{}, err
	}
	return request, affected, nil
}

// closeEditRequestLocked rejects a pending edit request whose listing is gone.
func (s *MemoryStore) closeEditRequestLocked(listingID uint64) {
	key := pendingKey{listingID: listingID, kind: RequestEdit}
	idx, ok := s.pending[key]
	if !ok {
		return
	}
	request := s.requests[idx]
	reviewedAt := s.tick(request.CreatedAt)
	request.Status = Rejected(ListingRemovedReason)
	request.ReviewedAt = &reviewedAt
	s.requests[idx] = request
	delete(s.pending, key)
}
