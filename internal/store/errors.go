package store

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNotOwner         = errors.New("caller does not own the listing")
	ErrPendingExists    = errors.New("a pending request of this kind already exists")
	ErrNoPendingRequest = errors.New("no pending request of this kind")
	ErrStateChanged     = errors.New("listing is not in the expected state")
)

// ListingRemovedReason is recorded on a pending edit request that is closed
// because its listing was deleted.
const ListingRemovedReason = "listing was deleted"
