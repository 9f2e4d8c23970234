package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"kosmarket/api/internal/events"
	"kosmarket/api/internal/rbac"
	"kosmarket/api/internal/store"
)

// MyRequests is the caller's own moderation history.
type MyRequests struct {
	Edits   []store.EditRequest   `json:"edits"`
	Deletes []store.DeleteRequest `json:"deletes"`
}

// checkOwnership loads the listing and confirms the caller owns it. It runs
// under the listing lock, before payload validation and the conflict check.
func (s *Service) checkOwnership(ctx context.Context, caller Caller, id uint64) error {
	listing, err := s.store.GetListing(ctx, id)
	if err != nil {
		return translateStoreError(err, id)
	}
	if listing.Owner != caller.Principal {
		return forbidden("caller does not own listing %d", id)
	}
	return nil
}

// SubmitEditRequest files a proposed full replacement of the listing's
// mutable fields. The live listing is untouched until an admin approves.
func (s *Service) SubmitEditRequest(ctx context.Context, caller Caller, id uint64, input ListingInput) (request store.EditRequest, err error) {
	defer func() { s.observe("submitEditRequest", err) }()

	if _, err := s.authorize(ctx, caller, rbac.ActionSubmitRequest); err != nil {
		return store.EditRequest{}, err
	}
	err = s.withListingLock(ctx, id, func() error {
		if err := s.checkOwnership(ctx, caller, id); err != nil {
			return err
		}
		if input.ID == nil || *input.ID != id {
			return validationError("Invalid edit request", map[string]string{"id": "must equal the listing id"})
		}
		fields, err := s.listingFields(input)
		if err != nil {
			return err
		}
		created, err := s.store.InsertRequest(ctx, store.NewRequest{
			ID:        newRequestID(store.RequestEdit),
			Kind:      store.RequestEdit,
			ListingID: id,
			Owner:     caller.Principal,
			Edited:    &fields,
		})
		if err != nil {
			return translateStoreError(err, id)
		}
		request = created.AsEdit()
		return nil
	})
	if err != nil {
		return store.EditRequest{}, err
	}

	s.logger.Info("edit request submitted", zap.Uint64("listing_id", id), zap.String("request_id", request.ID))
	s.emit(ctx, events.Event{Type: events.EditRequestSubmitted, ListingID: id, RequestID: request.ID, Actor: caller.Principal})
	return request, nil
}

func (s *Service) SubmitDeleteRequest(ctx context.Context, caller Caller, id uint64) (request store.DeleteRequest, err error) {
	defer func() { s.observe("submitDeleteRequest", err) }()

	if _, err := s.authorize(ctx, caller, rbac.ActionSubmitRequest); err != nil {
		return store.DeleteRequest{}, err
	}
	err = s.withListingLock(ctx, id, func() error {
		if err := s.checkOwnership(ctx, caller, id); err != nil {
			return err
		}
		created, err := s.store.InsertRequest(ctx, store.NewRequest{
			ID:        newRequestID(store.RequestDelete),
			Kind:      store.RequestDelete,
			ListingID: id,
			Owner:     caller.Principal,
		})
		if err != nil {
			return translateStoreError(err, id)
		}
		request = created.AsDelete()
		return nil
	})
	if err != nil {
		return store.DeleteRequest{}, err
	}

	s.logger.Info("delete request submitted", zap.Uint64("listing_id", id), zap.String("request_id", request.ID))
	s.emit(ctx, events.Event{Type: events.DeleteRequestSubmitted, ListingID: id, RequestID: request.ID, Actor: caller.Principal})
	return request, nil
}

func (s *Service) GetAllEditRequests(ctx context.Context, caller Caller) ([]store.EditRequest, error) {
	if _, err := s.authorize(ctx, caller, rbac.ActionReadModeration); err != nil {
		return nil, err
	}
	requests, err := s.store.ListRequests(ctx, store.RequestFilter{Kind: store.RequestEdit})
	if err != nil {
		return nil, err
	}
	out := make([]store.EditRequest, 0, len(requests))
	for _, request := range requests {
		out = append(out, request.AsEdit())
	}
	return out, nil
}

func (s *Service) GetAllDeleteRequests(ctx context.Context, caller Caller) ([]store.DeleteRequest, error) {
	if _, err := s.authorize(ctx, caller, rbac.ActionReadModeration); err != nil {
		return nil, err
	}
	requests, err := s.store.ListRequests(ctx, store.RequestFilter{Kind: store.RequestDelete})
	if err != nil {
		return nil, err
	}
	out := make([]store.DeleteRequest, 0, len(requests))
	for _, request := range requests {
		out = append(out, request.AsDelete())
	}
	return out, nil
}

func (s *Service) GetMyRequests(ctx context.Context, caller Caller) (MyRequests, error) {
	if _, err := s.authorize(ctx, caller, rbac.ActionReadOwnRequests); err != nil {
		return MyRequests{}, err
	}
	requests, err := s.store.ListRequests(ctx, store.RequestFilter{Owner: caller.Principal})
	if err != nil {
		return MyRequests{}, err
	}
	mine := MyRequests{Edits: []store.EditRequest{}, Deletes: []store.DeleteRequest{}}
	for _, request := range requests {
		switch request.Kind {
		case store.RequestEdit:
			mine.Edits = append(mine.Edits, request.AsEdit())
		case store.RequestDelete:
			mine.Deletes = append(mine.Deletes, request.AsDelete())
		}
	}
	return mine, nil
}

// decision validates an admin verdict. A reason is required to reject and
// dropped when approving.
func (s *Service) decision(input DecisionInput) (store.Decision, error) {
	if input.Approved {
		return store.Decision{Approved: true}, nil
	}
	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" {
		return store.Decision{}, validationError("Invalid decision", map[string]string{"reason": "is required when rejecting"})
	}
	if err := s.validateStruct(input); err != nil {
		return store.Decision{}, err
	}
	return store.Decision{Reason: input.Reason}, nil
}

// ProcessEditRequest decides the listing's pending edit request. Approval
// replaces the mutable fields; id, owner, createdAt and status stay.
func (s *Service) ProcessEditRequest(ctx context.Context, caller Caller, id uint64, input DecisionInput) (request store.EditRequest, err error) {
	defer func() { s.observe("processEditRequest", err) }()

	if _, err := s.authorize(ctx, caller, rbac.ActionModerate); err != nil {
		return store.EditRequest{}, err
	}
	decision, err := s.decision(input)
	if err != nil {
		return store.EditRequest{}, err
	}

	var listing store.Listing
	err = s.withListingLock(ctx, id, func() error {
		resolved, updated, err := s.store.ResolveEditRequest(ctx, id, decision)
		if err != nil {
			return translateStoreError(err, id)
		}
		request, listing = resolved.AsEdit(), updated
		return nil
	})
	if err != nil {
		return store.EditRequest{}, err
	}

	evt := events.Event{ListingID: id, RequestID: request.ID, Actor: caller.Principal}
	if decision.Approved {
		evt.Type = events.EditRequestApproved
		if listing.Status.Kind() == store.StatusApproved {
			s.search.Publish(listing)
		}
	} else {
		evt.Type = events.EditRequestRejected
		evt.Reason = decision.Reason
	}
	s.logger.Info("edit request processed",
		zap.Uint64("listing_id", id),
		zap.String("request_id", request.ID),
		zap.Bool("approved", decision.Approved),
	)
	s.emit(ctx, evt)
	return request, nil
}

// ProcessDeleteRequest decides the listing's pending delete request.
// Approval removes the listing; its photos are reported as orphaned.
func (s *Service) ProcessDeleteRequest(ctx context.Context, caller Caller, id uint64, input DecisionInput) (request store.DeleteRequest, err error) {
	defer func() { s.observe("processDeleteRequest", err) }()

	if _, err := s.authorize(ctx, caller, rbac.ActionModerate); err != nil {
		return store.DeleteRequest{}, err
	}
	decision, err := s.decision(input)
	if err != nil {
		return store.DeleteRequest{}, err
	}

	var removed store.Listing
	err = s.withListingLock(ctx, id, func() error {
		resolved, affected, err := s.store.ResolveDeleteRequest(ctx, id, decision)
		if err != nil {
			return translateStoreError(err, id)
		}
		request, removed = resolved.AsDelete(), affected
		return nil
	})
	if err != nil {
		return store.DeleteRequest{}, err
	}

	evt := events.Event{ListingID: id, RequestID: request.ID, Actor: caller.Principal}
	if decision.Approved {
		evt.Type = events.DeleteRequestApproved
		evt.OrphanedPhotos = removed.Photos
		s.search.Unpublish(id)
	} else {
		evt.Type = events.DeleteRequestRejected
		evt.Reason = decision.Reason
	}
	s.logger.Info("delete request processed",
		zap.Uint64("listing_id", id),
		zap.String("request_id", request.ID),
		zap.Bool("approved", decision.Approved),
	)
	s.emit(ctx, evt)
	return request, nil
}
