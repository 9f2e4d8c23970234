package app

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"kosmarket/api/internal/events"
	"kosmarket/api/internal/rbac"
	"kosmarket/api/internal/store"
)

type Photo struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

type PropertyTypeCounts struct {
	Kos       int `json:"kos"`
	Kontrakan int `json:"kontrakan"`
}

// CreateListing stores a new pending listing owned by the caller. Listings
// created by admins still need a separate approval.
func (s *Service) CreateListing(ctx context.Context, caller Caller, input ListingInput) (listing store.Listing, err error) {
	defer func() { s.observe("createListing", err) }()

	if _, err := s.authorize(ctx, caller, rbac.ActionCreateListing); err != nil {
		return store.Listing{}, err
	}
	fields, err := s.listingFields(input)
	if err != nil {
		return store.Listing{}, err
	}

	listing, err = s.store.InsertListing(ctx, caller.Principal, fields)
	if err != nil {
		return store.Listing{}, err
	}
	s.logger.Info("listing created", zap.Uint64("listing_id", listing.ID), zap.String("owner", listing.Owner))
	s.emit(ctx, events.Event{Type: events.ListingCreated, ListingID: listing.ID, Actor: caller.Principal})
	return listing, nil
}

func (s *Service) GetListing(ctx context.Context, id uint64) (store.Listing, error) {
	listing, err := s.store.GetListing(ctx, id)
	if err != nil {
		return store.Listing{}, translateStoreError(err, id)
	}
	return listing, nil
}

func (s *Service) GetAllListings(ctx context.Context) ([]store.Listing, error) {
	return s.store.ListListings(ctx, store.ListingFilter{})
}

func (s *Service) GetListingsByOwner(ctx context.Context, owner string) ([]store.Listing, error) {
	if strings.TrimSpace(owner) == "" {
		return []store.Listing{}, nil
	}
	return s.store.ListListings(ctx, store.ListingFilter{Owner: owner})
}

// GetPublishedListings returns approved listings only.
func (s *Service) GetPublishedListings(ctx context.Context) ([]store.Listing, error) {
	return s.store.ListListings(ctx, store.ListingFilter{Status: store.StatusApproved})
}

// GetListingLocations lists the distinct locations of approved listings.
func (s *Service) GetListingLocations(ctx context.Context) ([]string, error) {
	published, err := s.GetPublishedListings(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(published))
	locations := make([]string, 0, len(published))
	for _, listing := range published {
		if _, ok := seen[listing.Location]; ok {
			continue
		}
		seen[listing.Location] = struct{}{}
		locations = append(locations, listing.Location)
	}
	sort.Strings(locations)
	return locations, nil
}

func (s *Service) CountListingsByPropertyType(ctx context.Context) (PropertyTypeCounts, error) {
	published, err := s.GetPublishedListings(ctx)
	if err != nil {
		return PropertyTypeCounts{}, err
	}
	var counts PropertyTypeCounts
	for _, listing := range published {
		switch listing.PropertyType {
		case store.PropertyKos:
			counts.Kos++
		case store.PropertyKontrakan:
			counts.Kontrakan++
		}
	}
	return counts, nil
}

func (s *Service) GetListingStatus(ctx context.Context, id uint64) (store.Status, error) {
	listing, err := s.GetListing(ctx, id)
	if err != nil {
		return store.Status{}, err
	}
	return listing.Status, nil
}

func (s *Service) GetListingFacilities(ctx context.Context, id uint64) ([]store.Facility, error) {
	listing, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	return listing.Facilities, nil
}

// GetListingPhotos returns the listing's photo references in order, each
// with a URL the client can fetch.
func (s *Service) GetListingPhotos(ctx context.Context, id uint64) ([]Photo, error) {
	listing, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	photos := make([]Photo, 0, len(listing.Photos))
	for _, ref := range listing.Photos {
		url, err := s.photos.URL(ctx, ref)
		if err != nil {
			return nil, err
		}
		photos = append(photos, Photo{Ref: ref, URL: url})
	}
	return photos, nil
}

// AttachPhoto appends a photo reference while the listing awaits its first
// review. Approved listings change photos through edit requests.
func (s *Service) AttachPhoto(ctx context.Context, caller Caller, id uint64, input PhotoInput) (listing store.Listing, err error) {
	defer func() { s.observe("attachPhoto", err) }()

	if _, err := s.authorize(ctx, caller, rbac.ActionAttachPhoto); err != nil {
		return store.Listing{}, err
	}
	err = s.withListingLock(ctx, id, func() error {
		current, err := s.store.GetListing(ctx, id)
		if err != nil {
			return translateStoreError(err, id)
		}
		if current.Owner != caller.Principal {
			return forbidden("caller does not own listing %d", id)
		}
		input.Ref = strings.TrimSpace(input.Ref)
		if err := s.validateStruct(input); err != nil {
			return err
		}
		listing, err = s.store.AppendListingPhoto(ctx, id, input.Ref)
		return translateStoreError(err, id)
	})
	if err != nil {
		return store.Listing{}, err
	}
	s.emit(ctx, events.Event{Type: events.ListingPhotoAttached, ListingID: id, Actor: caller.Principal})
	return listing, nil
}

func (s *Service) ApproveListing(ctx context.Context, caller Caller, id uint64) (listing store.Listing, err error) {
	defer func() { s.observe("approveListing", err) }()

	if _, err := s.authorize(ctx, caller, rbac.ActionModerate); err != nil {
		return store.Listing{}, err
	}
	err = s.withListingLock(ctx, id, func() error {
		listing, err = s.store.TransitionListing(ctx, id, store.StatusPending, store.Approved())
		return translateStoreError(err, id)
	})
	if err != nil {
		return store.Listing{}, err
	}

	s.logger.Info("listing approved", zap.Uint64("listing_id", id), zap.String("actor", caller.Principal))
	s.search.Publish(listing)
	s.emit(ctx, events.Event{Type: events.ListingApproved, ListingID: id, Actor: caller.Principal})
	return listing, nil
}

func (s *Service) RejectListing(ctx context.Context, caller Caller, id uint64, input RejectInput) (listing store.Listing, err error) {
	defer func() { s.observe("rejectListing", err) }()

	if _, err := s.authorize(ctx, caller, rbac.ActionModerate); err != nil {
		return store.Listing{}, err
	}
	input.Reason = strings.TrimSpace(input.Reason)
	if err := s.validateStruct(input); err != nil {
		return store.Listing{}, err
	}
	err = s.withListingLock(ctx, id, func() error {
		listing, err = s.store.TransitionListing(ctx, id, store.StatusPending, store.Rejected(input.Reason))
		return translateStoreError(err, id)
	})
	if err != nil {
		return store.Listing{}, err
	}

	s.logger.Info("listing rejected", zap.Uint64("listing_id", id), zap.String("actor", caller.Principal))
	s.search.Unpublish(id)
	s.emit(ctx, events.Event{Type: events.ListingRejected, ListingID: id, Actor: caller.Principal, Reason: input.Reason})
	return listing, nil
}

// ReindexPublished pushes every approved listing to the search index.
func (s *Service) ReindexPublished(ctx context.Context) {
	s.search.ReindexAll(ctx, s.GetPublishedListings)
}
