package app

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"kosmarket/api/internal/store"
)

// ListingInput is the payload for createListing and the proposed replacement
// carried by an edit request.
type ListingInput struct {
	ID              *uint64  `json:"id,omitempty"`
	Title           string   `json:"title" validate:"required,max=200"`
	Description     string   `json:"description" validate:"max=5000"`
	Location        string   `json:"location" validate:"required,max=200"`
	PriceRupiah     *big.Int `json:"priceRupiah" validate:"-"`
	PropertyType    string   `json:"propertyType" validate:"required,oneof=kos kontrakan"`
	Facilities      []string `json:"facilities" validate:"unique,dive,oneof=wifi sharedBathroom furniture parking airConditioning laundry"`
	RentalDurations []string `json:"rentalDurations" validate:"required,min=1,unique,dive,oneof=daily monthly yearly"`
	Photos          []string `json:"photos" validate:"dive,required,max=1024"`
}

type ProfileInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

type DecisionInput struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason" validate:"max=1000"`
}

type RejectInput struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type PhotoInput struct {
	Ref string `json:"ref" validate:"required,max=1024"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags and returns a VALIDATION_ERROR with one
// detail per failing field.
func (s *Service) validateStruct(input any) error {
	details := map[string]string{}
	s.collectViolations(input, details)
	if len(details) > 0 {
		return validationError("Validation failed", details)
	}
	return nil
}

func (s *Service) collectViolations(input any, details map[string]string) {
	err := s.validate.Struct(input)
	if err == nil {
		return
	}
	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		details["_"] = err.Error()
		return
	}
	for _, violation := range violations {
		field := violation.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		details[field] = describeViolation(violation)
	}
}

func describeViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s long", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "unique":
		return "must not contain duplicates"
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}

// listingFields validates input and converts it to store fields.
func (s *Service) listingFields(input ListingInput) (store.ListingFields, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Location = strings.TrimSpace(input.Location)

	details := map[string]string{}
	s.collectViolations(input, details)
	switch {
	case input.PriceRupiah == nil:
		details["priceRupiah"] = "is required"
	case input.PriceRupiah.Sign() < 0:
		details["priceRupiah"] = "must not be negative"
	}
	if len(details) > 0 {
		return store.ListingFields{}, validationError("Invalid listing", details)
	}

	fields := store.ListingFields{
		Title:           input.Title,
		Description:     input.Description,
		Location:        input.Location,
		PriceRupiah:     new(big.Int).Set(input.PriceRupiah),
		PropertyType:    store.PropertyType(input.PropertyType),
		Facilities:      make([]store.Facility, 0, len(input.Facilities)),
		RentalDurations: make([]store.RentalDuration, 0, len(input.RentalDurations)),
		Photos:          append([]string{}, input.Photos...),
	}
	for _, facility := range input.Facilities {
		fields.Facilities = append(fields.Facilities, store.Facility(facility))
	}
	for _, duration := range input.RentalDurations {
		fields.RentalDurations = append(fields.RentalDurations, store.RentalDuration(duration))
	}
	return fields, nil
}
