// Package search publishes approved listings to a Meilisearch index for the
// public browse pages. Query evaluation lives with the presentation layer.
package search

import (
	"math/big"

	"kosmarket/api/internal/store"
)

// ListingRecord is the data we index for a published listing.
type ListingRecord struct {
	ID              uint64   `json:"id"`
	Owner           string   `json:"owner"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Location        string   `json:"location"`
	Price           *big.Int `json:"price"`
	PropertyType    string   `json:"propertyType"`
	Facilities      []string `json:"facilities"`
	RentalDurations []string `json:"rentalDurations"`
	Photos          []string `json:"photos"`
	UpdatedAt       int64    `json:"updatedAt"`
}

func FromListing(listing store.Listing) ListingRecord {
	record := ListingRecord{
		ID:              listing.ID,
		Owner:           listing.Owner,
		Title:           listing.Title,
		Description:     listing.Description,
		Location:        listing.Location,
		PropertyType:    string(listing.PropertyType),
		Facilities:      make([]string, 0, len(listing.Facilities)),
		RentalDurations: make([]string, 0, len(listing.RentalDurations)),
		Photos:          append([]string{}, listing.Photos...),
		UpdatedAt:       listing.UpdatedAt.Unix(),
	}
	if listing.PriceRupiah != nil {
		record.Price = new(big.Int).Set(listing.PriceRupiah)
	}
	for _, facility := range listing.Facilities {
		record.Facilities = append(record.Facilities, string(facility))
	}
	for _, duration := range listing.RentalDurations {
		record.RentalDurations = append(record.RentalDurations, string(duration))
	}
	return record
}

// Index can push published listings into a search index.
type Index interface {
	Healthy() bool
	IndexListings(records []ListingRecord) error
	DeleteListing(id uint64) error
}
