package httphandler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SubmitRatingRequest is the JSON body for POST /submit-rating. ShopDomain is
// optional when the shop is supplied by query, header or configuration.
type SubmitRatingRequest struct {
	ProductID  model.ProductID `json:"productId" validate:"required"`
	Rating     *float64        `json:"rating" validate:"required,gte=1,lte=5"`
	ShopDomain string          `json:"shopDomain" validate:"omitempty,hostname"`
}

// validateRequest runs struct validation and converts the first failure into
// a *model.ValidationError named after the JSON field.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate request: %w", err)
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Field() {
	case "ProductID":
		field = "productId"
	case "Rating":
		return &model.ValidationError{Field: "rating", Reason: "must be a whole number between 1 and 5"}
	}

	var reason string
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "hostname":
		reason = "must be a valid domain"
	default:
		reason = "is invalid"
	}
	return &model.ValidationError{Field: field, Reason: reason}
}
