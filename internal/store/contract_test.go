package store

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend interface {
	GetProfile(ctx context.Context, principal string) (UserProfile, error)
	SaveProfile(ctx context.Context, profile UserProfile) (UserProfile, error)
	InsertListing(ctx context.Context, owner string, fields ListingFields) (Listing, error)
	GetListing(ctx context.Context, id uint64) (Listing, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error)
	TransitionListing(ctx context.Context, id uint64, from StatusKind, to Status) (Listing, error)
	AppendListingPhoto(ctx context.Context, id uint64, ref string) (Listing, error)
	InsertRequest(ctx context.Context, in NewRequest) (Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
	ResolveEditRequest(ctx context.Context, listingID uint64, decision Decision) (Request, Listing, error)
	ResolveDeleteRequest(ctx context.Context, listingID uint64, decision Decision) (Request, Listing, error)
}

func sampleFields(title string) ListingFields {
	return ListingFields{
		Title:           title,
		Description:     "near campus",
		Location:        "Depok",
		PriceRupiah:     big.NewInt(1_500_000),
		PropertyType:    PropertyKos,
		Facilities:      []Facility{FacilityWifi},
		RentalDurations: []RentalDuration{DurationMonthly},
		Photos:          []string{"photos/a.jpg"},
	}
}

func runContract(t *testing.T, open func(t *testing.T) backend) {
	ctx := context.Background()

	t.Run("profiles keep role on name update", func(t *testing.T) {
		s := open(t)
		_, err := s.GetProfile(ctx, "alice")
		require.ErrorIs(t, err, ErrNotFound)

		created, err := s.SaveProfile(ctx, UserProfile{Principal: "alice", Name: "Alice", Role: "owner"})
		require.NoError(t, err)
		assert.Equal(t, "owner", created.Role)

		updated, err := s.SaveProfile(ctx, UserProfile{Principal: "alice", Name: "Alice B", Role: "admin"})
		require.NoError(t, err)
		assert.Equal(t, "Alice B", updated.Name)
		assert.Equal(t, "owner", updated.Role)
	})

	t.Run("listing ids increase and start pending", func(t *testing.T) {
		s := open(t)
		first, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)
		second, err := s.InsertListing(ctx, "bob", sampleFields("two"))
		require.NoError(t, err)

		assert.Greater(t, second.ID, first.ID)
		assert.Equal(t, StatusPending, first.Status.Kind())
		assert.Equal(t, 0, first.PriceRupiah.Cmp(big.NewInt(1_500_000)))
		assert.False(t, first.UpdatedAt.Before(first.CreatedAt))

		mine, err := s.ListListings(ctx, ListingFilter{Owner: "bob"})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, second.ID, mine[0].ID)

		_, err = s.GetListing(ctx, second.ID+100)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("huge prices survive storage", func(t *testing.T) {
		s := open(t)
		fields := sampleFields("mansion")
		fields.PriceRupiah, _ = new(big.Int).SetString("123456789012345678901234567890", 10)
		listing, err := s.InsertListing(ctx, "alice", fields)
		require.NoError(t, err)

		got, err := s.GetListing(ctx, listing.ID)
		require.NoError(t, err)
		assert.Equal(t, "123456789012345678901234567890", got.PriceRupiah.String())
	})

	t.Run("transition checks the source status", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)

		rejected, err := s.TransitionListing(ctx, listing.ID, StatusPending, Rejected("blurry photos"))
		require.NoError(t, err)
		reason, ok := rejected.Status.Reason()
		require.True(t, ok)
		assert.Equal(t, "blurry photos", reason)

		_, err = s.TransitionListing(ctx, listing.ID, StatusPending, Approved())
		require.ErrorIs(t, err, ErrStateChanged)
		_, err = s.TransitionListing(ctx, listing.ID+100, StatusPending, Approved())
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("photos append only while pending", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)

		updated, err := s.AppendListingPhoto(ctx, listing.ID, "photos/b.jpg")
		require.NoError(t, err)
		assert.Equal(t, []string{"photos/a.jpg", "photos/b.jpg"}, updated.Photos)

		_, err = s.TransitionListing(ctx, listing.ID, StatusPending, Approved())
		require.NoError(t, err)
		_, err = s.AppendListingPhoto(ctx, listing.ID, "photos/c.jpg")
		require.ErrorIs(t, err, ErrStateChanged)
	})

	t.Run("requests check ownership and pending uniqueness", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)
		edited := sampleFields("renamed")

		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_missing", Kind: RequestDelete, ListingID: listing.ID + 100, Owner: "alice"})
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_bob", Kind: RequestDelete, ListingID: listing.ID, Owner: "bob"})
		require.ErrorIs(t, err, ErrNotOwner)

		created, err := s.InsertRequest(ctx, NewRequest{ID: "req_edit1", Kind: RequestEdit, ListingID: listing.ID, Owner: "alice", Edited: &edited})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, created.Status.Kind())
		require.NotNil(t, created.EditedListing)
		assert.Equal(t, "renamed", created.EditedListing.Title)
		assert.Equal(t, listing.ID, created.EditedListing.ID)

		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_edit2", Kind: RequestEdit, ListingID: listing.ID, Owner: "alice", Edited: &edited})
		require.ErrorIs(t, err, ErrPendingExists)

		// A pending edit does not block a delete request.
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_del1", Kind: RequestDelete, ListingID: listing.ID, Owner: "alice"})
		require.NoError(t, err)

		edits, err := s.ListRequests(ctx, RequestFilter{Kind: RequestEdit})
		require.NoError(t, err)
		require.Len(t, edits, 1)
		all, err := s.ListRequests(ctx, RequestFilter{Owner: "alice"})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("approved edit replaces fields but keeps identity", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)
		_, err = s.TransitionListing(ctx, listing.ID, StatusPending, Approved())
		require.NoError(t, err)

		edited := sampleFields("renamed")
		edited.PropertyType = PropertyKontrakan
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_edit", Kind: RequestEdit, ListingID: listing.ID, Owner: "alice", Edited: &edited})
		require.NoError(t, err)

		request, updated, err := s.ResolveEditRequest(ctx, listing.ID, Decision{Approved: true})
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, request.Status.Kind())
		require.NotNil(t, request.ReviewedAt)
		assert.Equal(t, "renamed", updated.Title)
		assert.Equal(t, PropertyKontrakan, updated.PropertyType)
		assert.Equal(t, listing.ID, updated.ID)
		assert.Equal(t, "alice", updated.Owner)
		assert.Equal(t, StatusApproved, updated.Status.Kind())
		assert.Equal(t, listing.CreatedAt.Unix(), updated.CreatedAt.Unix())

		_, _, err = s.ResolveEditRequest(ctx, listing.ID, Decision{Approved: true})
		require.ErrorIs(t, err, ErrNoPendingRequest)

		// The slot frees up once decided.
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_edit_again", Kind: RequestEdit, ListingID: listing.ID, Owner: "alice", Edited: &edited})
		require.NoError(t, err)
	})

	t.Run("rejected edit leaves the listing alone", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)
		edited := sampleFields("renamed")
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_edit", Kind: RequestEdit, ListingID: listing.ID, Owner: "alice", Edited: &edited})
		require.NoError(t, err)

		request, current, err := s.ResolveEditRequest(ctx, listing.ID, Decision{Reason: "too vague"})
		require.NoError(t, err)
		reason, ok := request.Status.Reason()
		require.True(t, ok)
		assert.Equal(t, "too vague", reason)
		assert.Equal(t, "one", current.Title)
	})

	t.Run("approved delete removes the listing", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_del", Kind: RequestDelete, ListingID: listing.ID, Owner: "alice"})
		require.NoError(t, err)

		request, removed, err := s.ResolveDeleteRequest(ctx, listing.ID, Decision{Approved: true})
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, request.Status.Kind())
		assert.Equal(t, []string{"photos/a.jpg"}, removed.Photos)

		_, err = s.GetListing(ctx, listing.ID)
		require.ErrorIs(t, err, ErrNotFound)
		requests, err := s.ListRequests(ctx, RequestFilter{Kind: RequestDelete})
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, StatusApproved, requests[0].Status.Kind())
	})

	t.Run("approved delete closes the pending edit", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)
		edited := sampleFields("renamed")
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_edit", Kind: RequestEdit, ListingID: listing.ID, Owner: "alice", Edited: &edited})
		require.NoError(t, err)
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_del", Kind: RequestDelete, ListingID: listing.ID, Owner: "alice"})
		require.NoError(t, err)

		_, _, err = s.ResolveDeleteRequest(ctx, listing.ID, Decision{Approved: true})
		require.NoError(t, err)

		edits, err := s.ListRequests(ctx, RequestFilter{Kind: RequestEdit})
		require.NoError(t, err)
		require.Len(t, edits, 1)
		reason, rejected := edits[0].Status.Reason()
		require.True(t, rejected)
		assert.Equal(t, ListingRemovedReason, reason)
		require.NotNil(t, edits[0].ReviewedAt)

		_, _, err = s.ResolveEditRequest(ctx, listing.ID, Decision{Approved: true})
		require.ErrorIs(t, err, ErrNoPendingRequest)
	})

	t.Run("rejected delete keeps the pending edit", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)
		edited := sampleFields("renamed")
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_edit", Kind: RequestEdit, ListingID: listing.ID, Owner: "alice", Edited: &edited})
		require.NoError(t, err)
		_, err = s.InsertRequest(ctx, NewRequest{ID: "req_del", Kind: RequestDelete, ListingID: listing.ID, Owner: "alice"})
		require.NoError(t, err)

		_, _, err = s.ResolveDeleteRequest(ctx, listing.ID, Decision{Reason: "keep it"})
		require.NoError(t, err)

		edits, err := s.ListRequests(ctx, RequestFilter{Kind: RequestEdit})
		require.NoError(t, err)
		require.Len(t, edits, 1)
		assert.Equal(t, StatusPending, edits[0].Status.Kind())
	})

	t.Run("concurrent submissions admit one pending request", func(t *testing.T) {
		s := open(t)
		listing, err := s.InsertListing(ctx, "alice", sampleFields("one"))
		require.NoError(t, err)

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.InsertRequest(ctx, NewRequest{
					ID:        "req_" + string(rune('a'+i)),
					Kind:      RequestDelete,
					ListingID: listing.ID,
					Owner:     "alice",
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case assert.ErrorIs(t, err, ErrPendingExists):
					conflicts++
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, conflicts)
	})
}
