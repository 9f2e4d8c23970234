package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kosmarket/api/internal/blob"
	"kosmarket/api/internal/events"
	"kosmarket/api/internal/lock"
	"kosmarket/api/internal/metrics"
	"kosmarket/api/internal/rbac"
	"kosmarket/api/internal/search"
	"kosmarket/api/internal/store"
	"kosmarket/api/internal/util"
)

// Caller is the authenticated identity behind a call. An empty Principal is
// an anonymous caller.
type Caller struct {
	Principal string
	Name      string
}

func (c Caller) Anonymous() bool {
	return c.Principal == ""
}

// DataStore is the persistence the workflow engine needs. Each method is
// atomic on its own; see store.MemoryStore and store.PostgresStore.
type DataStore interface {
	Ping(context.Context) error
	GetProfile(context.Context, string) (store.UserProfile, error)
	SaveProfile(context.Context, store.UserProfile) (store.UserProfile, error)
	InsertListing(context.Context, string, store.ListingFields) (store.Listing, error)
	GetListing(context.Context, uint64) (store.Listing, error)
	ListListings(context.Context, store.ListingFilter) ([]store.Listing, error)
	TransitionListing(context.Context, uint64, store.StatusKind, store.Status) (store.Listing, error)
	AppendListingPhoto(context.Context, uint64, string) (store.Listing, error)
	InsertRequest(context.Context, store.NewRequest) (store.Request, error)
	ListRequests(context.Context, store.RequestFilter) ([]store.Request, error)
	ResolveEditRequest(context.Context, uint64, store.Decision) (store.Request, store.Listing, error)
	ResolveDeleteRequest(context.Context, uint64, store.Decision) (store.Request, store.Listing, error)
}

type Deps struct {
	Store           DataStore
	Locker          lock.Locker
	Search          *search.Service
	Photos          blob.Resolver
	Events          events.Publisher
	Logger          *zap.Logger
	AdminPrincipals []string
}

type Service struct {
	store    DataStore
	locker   lock.Locker
	search   *search.Service
	photos   blob.Resolver
	events   events.Publisher
	logger   *zap.Logger
	validate *validator.Validate
	admins   map[string]struct{}
	now      func() time.Time
}

func New(deps Deps) *Service {
	s := &Service{
		store:    deps.Store,
		locker:   deps.Locker,
		search:   deps.Search,
		photos:   deps.Photos,
		events:   deps.Events,
		logger:   deps.Logger,
		validate: newValidator(),
		admins:   make(map[string]struct{}, len(deps.AdminPrincipals)),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.photos == nil {
		s.photos = blob.NewStaticResolver("")
	}
	if s.events == nil {
		s.events = events.NopPublisher{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, principal := range deps.AdminPrincipals {
		if principal = strings.TrimSpace(principal); principal != "" {
			s.admins[principal] = struct{}{}
		}
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ResolveCallerRole returns the caller's role as of now. It never fails on a
// missing profile.
func (s *Service) ResolveCallerRole(ctx context.Context, caller Caller) (rbac.Role, error) {
	if caller.Anonymous() {
		return rbac.RoleGuest, nil
	}
	profile, err := s.store.GetProfile(ctx, caller.Principal)
	if errors.Is(err, store.ErrNotFound) {
		return rbac.RoleGuest, nil
	}
	if err != nil {
		return rbac.RoleGuest, fmt.Errorf("resolve role: %w", err)
	}
	return rbac.Resolve(caller.Principal, profile.Role, true), nil
}

func (s *Service) IsCallerAdmin(ctx context.Context, caller Caller) (bool, error) {
	role, err := s.ResolveCallerRole(ctx, caller)
	if err != nil {
		return false, err
	}
	return role == rbac.RoleAdmin, nil
}

// authorize is the access gate: it re-resolves the role on every call and
// fails before any state is read or written.
func (s *Service) authorize(ctx context.Context, caller Caller, action rbac.Action) (rbac.Role, error) {
	role, err := s.ResolveCallerRole(ctx, caller)
	if err != nil {
		return role, err
	}
	if !rbac.Can(role, action) {
		s.logger.Debug("access denied",
			zap.String("principal", caller.Principal),
			zap.String("role", string(role)),
			zap.String("action", string(action)),
		)
		return role, forbidden("role %s may not %s", role, action)
	}
	return role, nil
}

// SaveCallerProfile creates the caller's profile on first use or renames it.
// The role is fixed at creation.
func (s *Service) SaveCallerProfile(ctx context.Context, caller Caller, input ProfileInput) (store.UserProfile, error) {
	if caller.Anonymous() {
		return store.UserProfile{}, forbidden("sign in to save a profile")
	}
	if _, err := s.authorize(ctx, caller, rbac.ActionSaveProfile); err != nil {
		return store.UserProfile{}, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validateStruct(input); err != nil {
		return store.UserProfile{}, err
	}

	role := rbac.RoleOwner
	if _, ok := s.admins[caller.Principal]; ok {
		role = rbac.RoleAdmin
	}
	profile, err := s.store.SaveProfile(ctx, store.UserProfile{
		Principal: caller.Principal,
		Name:      input.Name,
		Role:      string(role),
	})
	if err != nil {
		return store.UserProfile{}, err
	}
	s.logger.Info("profile saved", zap.String("principal", profile.Principal), zap.String("role", profile.Role))
	return profile, nil
}

func (s *Service) GetCallerProfile(ctx context.Context, caller Caller) (store.UserProfile, error) {
	if caller.Anonymous() {
		return store.UserProfile{}, forbidden("sign in to read your profile")
	}
	profile, err := s.store.GetProfile(ctx, caller.Principal)
	if errors.Is(err, store.ErrNotFound) {
		return store.UserProfile{}, notFound("no profile for caller")
	}
	return profile, err
}

// GetUserProfile is open to admins and to the profile's own principal.
func (s *Service) GetUserProfile(ctx context.Context, caller Caller, principal string) (store.UserProfile, error) {
	if caller.Anonymous() || caller.Principal != principal {
		if _, err := s.authorize(ctx, caller, rbac.ActionReadModeration); err != nil {
			return store.UserProfile{}, err
		}
	}
	profile, err := s.store.GetProfile(ctx, principal)
	if errors.Is(err, store.ErrNotFound) {
		return store.UserProfile{}, notFound("no profile for %s", principal)
	}
	return profile, err
}

// withListingLock runs fn while holding the per-listing lock.
func (s *Service) withListingLock(ctx context.Context, id uint64, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, lock.ListingKey(id))
	if err != nil {
		return fmt.Errorf("lock listing %d: %w", id, err)
	}
	defer unlock()
	return fn()
}

// observe records the outcome of a mutating operation.
func (s *Service) observe(operation string, err error) {
	metrics.RecordTransition(operation, errorCode(err))
}

// emit publishes a committed transition. Failures are logged; the
// transition already happened.
func (s *Service) emit(ctx context.Context, evt events.Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event",
			zap.String("type", string(evt.Type)),
			zap.Uint64("listing_id", evt.ListingID),
			zap.Error(err),
		)
	}
}

func newRequestID(kind store.RequestKind) string {
	return util.NewID(string(kind))
}
