package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

type StatusKind string

const (
	StatusPending  StatusKind = "pending"
	StatusApproved StatusKind = "approved"
	StatusRejected StatusKind = "rejected"
)

// Status is the moderation state of a listing or a request. Only the
// rejected variant carries a reason; the zero value is pending.
type Status struct {
	kind   StatusKind
	reason string
}

func Pending() Status  { return Status{kind: StatusPending} }
func Approved() Status { return Status{kind: StatusApproved} }

func Rejected(reason string) Status {
	return Status{kind: StatusRejected, reason: strings.TrimSpace(reason)}
}

// ParseStatus rebuilds a Status from its stored columns.
func ParseStatus(kind string, reason *string) (Status, error) {
	switch StatusKind(kind) {
	case StatusPending, StatusApproved:
		if reason != nil {
			return Status{}, fmt.Errorf("status %s cannot carry a rejection reason", kind)
		}
		return Status{kind: StatusKind(kind)}, nil
	case StatusRejected:
		if reason == nil || strings.TrimSpace(*reason) == "" {
			return Status{}, fmt.Errorf("rejected status requires a reason")
		}
		return Rejected(*reason), nil
	default:
		return Status{}, fmt.Errorf("unknown status %q", kind)
	}
}

func (s Status) Kind() StatusKind {
	if s.kind == "" {
		return StatusPending
	}
	return s.kind
}

func (s Status) Reason() (string, bool) {
	if s.kind != StatusRejected {
		return "", false
	}
	return s.reason, true
}

func (s Status) reasonPtr() *string {
	if reason, ok := s.Reason(); ok {
		return &reason
	}
	return nil
}

func (s Status) String() string {
	if reason, ok := s.Reason(); ok {
		return fmt.Sprintf("%s(%s)", s.Kind(), reason)
	}
	return string(s.Kind())
}

type statusJSON struct {
	Kind   StatusKind `json:"kind"`
	Reason *string    `json:"reason,omitempty"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusJSON{Kind: s.Kind(), Reason: s.reasonPtr()})
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw statusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(string(raw.Kind), raw.Reason)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type PropertyType string

const (
	PropertyKos       PropertyType = "kos"
	PropertyKontrakan PropertyType = "kontrakan"
)

type Facility string

const (
	FacilityWifi            Facility = "wifi"
	FacilitySharedBathroom  Facility = "sharedBathroom"
	FacilityFurniture       Facility = "furniture"
	FacilityParking         Facility = "parking"
	FacilityAirConditioning Facility = "airConditioning"
	FacilityLaundry         Facility = "laundry"
)

type RentalDuration string

const (
	DurationDaily   RentalDuration = "daily"
	DurationMonthly RentalDuration = "monthly"
	DurationYearly  RentalDuration = "yearly"
)

// ListingFields are the owner-editable parts of a listing. An approved edit
// request replaces all of them at once.
type ListingFields struct {
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Location        string           `json:"location"`
	PriceRupiah     *big.Int         `json:"priceRupiah"`
	PropertyType    PropertyType     `json:"propertyType"`
	Facilities      []Facility       `json:"facilities"`
	RentalDurations []RentalDuration `json:"rentalDurations"`
	Photos          []string         `json:"photos"`
}

func (f ListingFields) Clone() ListingFields {
	out := f
	if f.PriceRupiah != nil {
		out.PriceRupiah = new(big.Int).Set(f.PriceRupiah)
	}
	out.Facilities = append([]Facility{}, f.Facilities...)
	out.RentalDurations = append([]RentalDuration{}, f.RentalDurations...)
	out.Photos = append([]string{}, f.Photos...)
	return out
}

type Listing struct {
	ID    uint64 `json:"id"`
	Owner string `json:"owner"`
	ListingFields
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (l Listing) Clone() Listing {
	out := l
	out.ListingFields = l.ListingFields.Clone()
	return out
}

// ProposedListing is the replacement an edit request carries: the target
// listing's identity plus the proposed fields.
type ProposedListing struct {
	ID    uint64 `json:"id"`
	Owner string `json:"owner"`
	ListingFields
}

func (p ProposedListing) Clone() ProposedListing {
	out := p
	out.ListingFields = p.ListingFields.Clone()
	return out
}

type RequestKind string

const (
	RequestEdit   RequestKind = "edit"
	RequestDelete RequestKind = "delete"
)

// Request is the stored form of an edit or delete request. EditedListing is
// set only for edit requests.
type Request struct {
	ID            string
	Kind          RequestKind
	ListingID     uint64
	Owner         string
	EditedListing *ProposedListing
	Status        Status
	CreatedAt     time.Time
	ReviewedAt    *time.Time
}

func (r Request) Clone() Request {
	out := r
	if r.EditedListing != nil {
		edited := r.EditedListing.Clone()
		out.EditedListing = &edited
	}
	if r.ReviewedAt != nil {
		reviewed := *r.ReviewedAt
		out.ReviewedAt = &reviewed
	}
	return out
}

type EditRequest struct {
	ID              string          `json:"id"`
	ListingID       uint64          `json:"listingId"`
	Owner           string          `json:"owner"`
	CreatedAt       time.Time       `json:"createdAt"`
	EditedListing   ProposedListing `json:"editedListing"`
	Status          Status          `json:"status"`
	RejectionReason *string         `json:"rejectionReason,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewedAt,omitempty"`
}

type DeleteRequest struct {
	ID              string     `json:"id"`
	ListingID       uint64     `json:"listingId"`
	Owner           string     `json:"owner"`
	CreatedAt       time.Time  `json:"createdAt"`
	Status          Status     `json:"status"`
	RejectionReason *string    `json:"rejectionReason,omitempty"`
	ReviewedAt      *time.Time `json:"reviewedAt,omitempty"`
}

func (r Request) AsEdit() EditRequest {
	out := EditRequest{
		ID:              r.ID,
		ListingID:       r.ListingID,
		Owner:           r.Owner,
		CreatedAt:       r.CreatedAt,
		Status:          r.Status,
		RejectionReason: r.Status.reasonPtr(),
		ReviewedAt:      r.ReviewedAt,
	}
	if r.EditedListing != nil {
		out.EditedListing = r.EditedListing.Clone()
	}
	return out
}

func (r Request) AsDelete() DeleteRequest {
	return DeleteRequest{
		ID:              r.ID,
		ListingID:       r.ListingID,
		Owner:           r.Owner,
		CreatedAt:       r.CreatedAt,
		Status:          r.Status,
		RejectionReason: r.Status.reasonPtr(),
		ReviewedAt:      r.ReviewedAt,
	}
}

// NewRequest is what a submitter hands to the store. Edited is required for
// edit requests and ignored for delete requests.
type NewRequest struct {
	ID        string
	Kind      RequestKind
	ListingID uint64
	Owner     string
	Edited    *ListingFields
}

// Decision is an admin verdict on a pending request.
type Decision struct {
	Approved bool
	Reason   string
}

func (d Decision) Status() Status {
	if d.Approved {
		return Approved()
	}
	return Rejected(d.Reason)
}

type UserProfile struct {
	Principal string    `json:"principal"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type ListingFilter struct {
	Owner  string
	Status StatusKind
}

func (f ListingFilter) matches(l Listing) bool {
	if f.Owner != "" && l.Owner != f.Owner {
		return false
	}
	if f.Status != "" && l.Status.Kind() != f.Status {
		return false
	}
	return true
}

type RequestFilter struct {
	Kind  RequestKind
	Owner string
}

func (f RequestFilter) matches(r Request) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Owner != "" && r.Owner != f.Owner {
		return false
	}
	return true
}
