package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	listingColumns = `id, owner, title, description, location, price_rupiah::text, property_type,
		facilities, rental_durations, photos, status, rejection_reason, created_at, updated_at`
	requestColumns = `id, kind, listing_id, owner, edited_listing, status, rejection_reason, created_at, reviewed_at`

	uniqueViolation = "23505"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) GetProfile(ctx context.Context, principal string) (UserProfile, error) {
	var profile UserProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT principal, name, role, created_at FROM user_profiles WHERE principal=$1
	`, principal).Scan(&profile.Principal, &profile.Name, &profile.Role, &profile.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserProfile{}, ErrNotFound
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// SaveProfile creates the profile or, when it exists, updates only the name.
func (s *PostgresStore) SaveProfile(ctx context.Context, profile UserProfile) (UserProfile, error) {
	var saved UserProfile
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_profiles (principal, name, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal) DO UPDATE SET name=EXCLUDED.name
		RETURNING principal, name, role, created_at
	`, profile.Principal, profile.Name, profile.Role).Scan(&saved.Principal, &saved.Name, &saved.Role, &saved.CreatedAt)
	if err != nil {
		return UserProfile{}, fmt.Errorf("save profile: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) InsertListing(ctx context.Context, owner string, fields ListingFields) (Listing, error) {
	args, err := fieldArgs(fields)
	if err != nil {
		return Listing{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO listings (owner, title, description, location, price_rupiah, property_type, facilities, rental_durations, photos)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::jsonb, $8::jsonb, $9::jsonb)
		RETURNING `+listingColumns,
		append([]any{owner}, args...)...)
	listing, err := scanListing(row)
	if err != nil {
		return Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	return listing, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id uint64) (Listing, error) {
	listing, err := scanListing(s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, ErrNotFound
	}
	if err != nil {
		return Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return listing, nil
}

func (s *PostgresStore) ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Owner != "" {
		args = append(args, filter.Owner)
		conditions = append(conditions, fmt.Sprintf("owner=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + listingColumns + ` FROM listings`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	items := make([]Listing, 0)
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		items = append(items, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return items, nil
}

// TransitionListing moves a listing from one status to another. The WHERE
// clause re-checks the source status against committed state.
func (s *PostgresStore) TransitionListing(ctx context.Context, id uint64, from StatusKind, to Status) (Listing, error) {
	listing, err := scanListing(s.db.QueryRowContext(ctx, `
		UPDATE listings
		SET status=$3, rejection_reason=$4, updated_at=GREATEST(NOW(), updated_at)
		WHERE id=$1 AND status=$2
		RETURNING `+listingColumns,
		int64(id), string(from), string(to.Kind()), to.reasonPtr()))
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, s.missOrStateChanged(ctx, id)
	}
	if err != nil {
		return Listing{}, fmt.Errorf("transition listing: %w", err)
	}
	return listing, nil
}

func (s *PostgresStore) AppendListingPhoto(ctx context.Context, id uint64, ref string) (Listing, error) {
	listing, err := scanListing(s.db.QueryRowContext(ctx, `
		UPDATE listings
		SET photos = photos || jsonb_build_array($2::text), updated_at=GREATEST(NOW(), updated_at)
		WHERE id=$1 AND status='pending'
		RETURNING `+listingColumns,
		int64(id), ref))
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, s.missOrStateChanged(ctx, id)
	}
	if err != nil {
		return Listing{}, fmt.Errorf("append listing photo: %w", err)
	}
	return listing, nil
}

func (s *PostgresStore) missOrStateChanged(ctx context.Context, id uint64) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM listings WHERE id=$1)`, int64(id)).Scan(&exists); err != nil {
		return fmt.Errorf("check listing: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStateChanged
}

// InsertRequest locks the listing row, checks ownership, then inserts. The
// partial unique index on pending (listing_id, kind) rejects a second
// pending request even when two submissions race.
func (s *PostgresStore) InsertRequest(ctx context.Context, in NewRequest) (Request, error) {
	var edited []byte
	if in.Kind == RequestEdit {
		if in.Edited == nil {
			return Request{}, fmt.Errorf("edit request for listing %d has no payload", in.ListingID)
		}
		var err error
		if edited, err = json.Marshal(in.Edited); err != nil {
			return Request{}, fmt.Errorf("marshal edited listing: %w", err)
		}
	}

	var request Request
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT owner FROM listings WHERE id=$1 FOR UPDATE`, int64(in.ListingID)).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock listing: %w", err)
		}
		if owner != in.Owner {
			return ErrNotOwner
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO moderation_requests (id, kind, listing_id, owner, edited_listing)
			VALUES ($1, $2, $3, $4, $5::jsonb)
			RETURNING `+requestColumns,
			in.ID, string(in.Kind), int64(in.ListingID), in.Owner, nullableJSON(edited))
		request, err = scanRequest(row)
		if isUniqueViolation(err) {
			return ErrPendingExists
		}
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	return request, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind=$%d", len(args)))
	}
	if filter.Owner != "" {
		args = append(args, filter.Owner)
		conditions = append(conditions, fmt.Sprintf("owner=$%d", len(args)))
	}
	query := `SELECT ` + requestColumns + ` FROM moderation_requests`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	items := make([]Request, 0)
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

// resolvePending decides the pending request of kind for listingID inside tx.
// A concurrent decision that committed first leaves no pending row to update.
func resolvePending(ctx context.Context, tx *sql.Tx, listingID uint64, kind RequestKind, decision Decision) (Request, error) {
	status := decision.Status()
	request, err := scanRequest(tx.QueryRowContext(ctx, `
		UPDATE moderation_requests
		SET status=$3, rejection_reason=$4, reviewed_at=GREATEST(NOW(), created_at)
		WHERE listing_id=$1 AND kind=$2 AND status='pending'
		RETURNING `+requestColumns,
		int64(listingID), string(kind), string(status.Kind()), status.reasonPtr()))
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNoPendingRequest
	}
	if err != nil {
		return Request{}, fmt.Errorf("resolve request: %w", err)
	}
	return request, nil
}

func (s *PostgresStore) ResolveEditRequest(ctx context.Context, listingID uint64, decision Decision) (Request, Listing, error) {
	var (
		request Request
		listing Listing
	)
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if request, err = resolvePending(ctx, tx, listingID, RequestEdit, decision); err != nil {
			return err
		}
		if !decision.Approved {
			listing, err = scanListing(tx.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1`, int64(listingID)))
			if errors.Is(err, sql.ErrNoRows) {
				listing = Listing{}
				return nil
			}
			return err
		}

		args, err := fieldArgs(request.EditedListing.ListingFields)
		if err != nil {
			return err
		}
		listing, err = scanListing(tx.QueryRowContext(ctx, `
			UPDATE listings
			SET title=$2, description=$3, location=$4, price_rupiah=$5::numeric, property_type=$6,
				facilities=$7::jsonb, rental_durations=$8::jsonb, photos=$9::jsonb,
				updated_at=GREATEST(NOW(), updated_at)
			WHERE id=$1
			RETURNING `+listingColumns,
			append([]any{int64(listingID)}, args...)...))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("replace listing fields: %w", err)
		}
		return nil
	})
	if err != nil {
		return Request{}, Listing{}, err
	}
	return request, listing, nil
}

func (s *PostgresStore) ResolveDeleteRequest(ctx context.Context, listingID uint64, decision Decision) (Request, Listing, error) {
	var (
		request Request
		listing Listing
	)
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		if request, err = resolvePending(ctx, tx, listingID, RequestDelete, decision); err != nil {
			return err
		}
		query := `SELECT ` + listingColumns + ` FROM listings WHERE id=$1`
		if decision.Approved {
			query = `DELETE FROM listings WHERE id=$1 RETURNING ` + listingColumns
		}
		listing, err = scanListing(tx.QueryRowContext(ctx, query, int64(listingID)))
		if errors.Is(err, sql.ErrNoRows) {
			if decision.Approved {
				return ErrNotFound
			}
			listing = Listing{}
			return nil
		}
		if err != nil {
			return fmt.Errorf("apply delete decision: %w", err)
		}
		if !decision.Approved {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE moderation_requests
			SET status='rejected', rejection_reason=$2, reviewed_at=GREATEST(NOW(), created_at)
			WHERE listing_id=$1 AND kind='edit' AND status='pending'
		`, int64(listingID), ListingRemovedReason); err != nil {
			return fmt.Errorf("close pending edit request: %w", err)
		}
		return nil
	})
	if err != nil {
		return Request{}, Listing{}, err
	}
	return request, listing, nil
}

func fieldArgs(fields ListingFields) ([]any, error) {
	if fields.PriceRupiah == nil {
		return nil, fmt.Errorf("listing price is required")
	}
	facilities, err := json.Marshal(nonNilSlice(fields.Facilities))
	if err != nil {
		return nil, fmt.Errorf("marshal facilities: %w", err)
	}
	durations, err := json.Marshal(nonNilSlice(fields.RentalDurations))
	if err != nil {
		return nil, fmt.Errorf("marshal rental durations: %w", err)
	}
	photos, err := json.Marshal(nonNilSlice(fields.Photos))
	if err != nil {
		return nil, fmt.Errorf("marshal photos: %w", err)
	}
	return []any{
		fields.Title,
		fields.Description,
		fields.Location,
		fields.PriceRupiah.String(),
		string(fields.PropertyType),
		string(facilities),
		string(durations),
		string(photos),
	}, nil
}

func scanListing(row rowScanner) (Listing, error) {
	var (
		listing                       Listing
		id                            int64
		price, propertyType, status   string
		facilities, durations, photos []byte
		reason                        sql.NullString
	)
	if err := row.Scan(
		&id,
		&listing.Owner,
		&listing.Title,
		&listing.Description,
		&listing.Location,
		&price,
		&propertyType,
		&facilities,
		&durations,
		&photos,
		&status,
		&reason,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	); err != nil {
		return Listing{}, err
	}
	listing.ID = uint64(id)
	listing.PropertyType = PropertyType(propertyType)

	amount, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return Listing{}, fmt.Errorf("listing %d has malformed price %q", id, price)
	}
	listing.PriceRupiah = amount

	if err := json.Unmarshal(facilities, &listing.Facilities); err != nil {
		return Listing{}, fmt.Errorf("decode facilities: %w", err)
	}
	if err := json.Unmarshal(durations, &listing.RentalDurations); err != nil {
		return Listing{}, fmt.Errorf("decode rental durations: %w", err)
	}
	if err := json.Unmarshal(photos, &listing.Photos); err != nil {
		return Listing{}, fmt.Errorf("decode photos: %w", err)
	}

	parsed, err := ParseStatus(status, nullStringPtr(reason))
	if err != nil {
		return Listing{}, fmt.Errorf("listing %d: %w", id, err)
	}
	listing.Status = parsed
	return listing, nil
}

func scanRequest(row rowScanner) (Request, error) {
	var (
		request      Request
		listingID    int64
		kind, status string
		edited       []byte
		reason       sql.NullString
		reviewedAt   sql.NullTime
	)
	if err := row.Scan(
		&request.ID,
		&kind,
		&listingID,
		&request.Owner,
		&edited,
		&status,
		&reason,
		&request.CreatedAt,
		&reviewedAt,
	); err != nil {
		return Request{}, err
	}
	request.Kind = RequestKind(kind)
	request.ListingID = uint64(listingID)

	if len(edited) > 0 {
		var fields ListingFields
		if err := json.Unmarshal(edited, &fields); err != nil {
			return Request{}, fmt.Errorf("decode edited listing: %w", err)
		}
		request.EditedListing = &ProposedListing{ID: request.ListingID, Owner: request.Owner, ListingFields: fields}
	}

	parsed, err := ParseStatus(status, nullStringPtr(reason))
	if err != nil {
		return Request{}, fmt.Errorf("request %s: %w", request.ID, err)
	}
	request.Status = parsed
	if reviewedAt.Valid {
		reviewed := reviewedAt.Time
		request.ReviewedAt = &reviewed
	}
	return request, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullableJSON(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
