package app

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kosmarket/api/internal/events"
	"kosmarket/api/internal/store"
)

var (
	ownerCaller     = Caller{Principal: "owner-1", Name: "Owner One"}
	otherCaller     = Caller{Principal: "owner-2", Name: "Owner Two"}
	adminCaller     = Caller{Principal: "admin-1", Name: "Admin"}
	guestCaller     = Caller{Principal: "guest-1", Name: "No Profile"}
	anonymousCaller = Caller{}
)

// fakeStore wraps the in-memory store so tests can inject failures.
type fakeStore struct {
	*store.MemoryStore
	pingFn       func(context.Context) error
	getProfileFn func(context.Context, string) (store.UserProfile, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetProfile(ctx context.Context, principal string) (store.UserProfile, error) {
	if f.getProfileFn != nil {
		return f.getProfileFn(ctx, principal)
	}
	return f.MemoryStore.GetProfile(ctx, principal)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return events.Event{}
	}
	return p.events[len(p.events)-1]
}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	events *recordingPublisher
}

// newTestEnv builds a service over a memory store with owner-1 and owner-2
// as owners and admin-1 as admin. guest-1 has no profile.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	fs := &fakeStore{MemoryStore: store.NewMemoryStore()}
	pub := &recordingPublisher{}
	svc := New(Deps{
		Store:           fs,
		Events:          pub,
		Logger:          zap.NewNop(),
		AdminPrincipals: []string{adminCaller.Principal},
	})

	ctx := context.Background()
	for _, caller := range []Caller{ownerCaller, otherCaller, adminCaller} {
		_, err := svc.SaveCallerProfile(ctx, caller, ProfileInput{Name: caller.Name})
		require.NoError(t, err)
	}
	return testEnv{svc: svc, store: fs, events: pub}
}

func sampleInput() ListingInput {
	return ListingInput{
		Title:           "Kos Melati dekat UI",
		Description:     "Kamar bersih, 5 menit ke kampus",
		Location:        "Depok",
		PriceRupiah:     big.NewInt(1_500_000),
		PropertyType:    "kos",
		Facilities:      []string{"wifi", "sharedBathroom"},
		RentalDurations: []string{"monthly"},
		Photos:          []string{"listings/melati/front.jpg"},
	}
}

func editInput(id uint64, price int64) ListingInput {
	input := sampleInput()
	input.ID = &id
	input.PriceRupiah = big.NewInt(price)
	return input
}

func (e testEnv) createListing(t *testing.T, caller Caller) store.Listing {
	t.Helper()
	listing, err := e.svc.CreateListing(context.Background(), caller, sampleInput())
	require.NoError(t, err)
	return listing
}

func (e testEnv) createApprovedListing(t *testing.T, caller Caller) store.Listing {
	t.Helper()
	listing := e.createListing(t, caller)
	approved, err := e.svc.ApproveListing(context.Background(), adminCaller, listing.ID)
	require.NoError(t, err)
	return approved
}
