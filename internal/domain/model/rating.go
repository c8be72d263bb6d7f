package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Bounds of a single star rating.
const (
	MinRating Rating = 1
	MaxRating Rating = 5
)

// ErrCorruptHistory is returned by ParseHistory when the stored value cannot
// be read as a list of star ratings. Callers degrade to an empty history.
var ErrCorruptHistory = errors.New("stored rating history is corrupt")

// Rating is a single 1-5 star vote.
type Rating int

// Valid reports whether r lies within MinRating..MaxRating.
func (r Rating) Valid() bool {
	return r >= MinRating && r <= MaxRating
}

// ParseRating converts a decoded JSON number into a Rating. A missing value,
// a fractional value, or a value outside 1..5 is a validation error.
func ParseRating(v *float64) (Rating, error) {
	if v == nil {
		return 0, &ValidationError{Field: "rating", Reason: "is required"}
	}
	f := *v
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, &ValidationError{Field: "rating", Reason: "must be a whole number between 1 and 5"}
	}
	if f < float64(MinRating) || f > float64(MaxRating) {
		return 0, &ValidationError{Field: "rating", Reason: "must be a whole number between 1 and 5"}
	}
	return Rating(f), nil
}

// ProductID identifies a product on the remote platform. It is opaque to this
// service beyond being non-empty.
type ProductID string

// Validate rejects empty and whitespace-only IDs.
func (id ProductID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return &ValidationError{Field: "productId", Reason: "is required"}
	}
	return nil
}

// UnmarshalJSON accepts both `"8352823935137"` and `8352823935137`, since
// storefront templates emit product IDs either way.
func (id *ProductID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ProductID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("productId must be a string or number: %w", err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("productId must be a positive integer: %w", err)
	}
	*id = ProductID(n.String())
	return nil
}

// History is the ordered, append-only list of every rating a product has
// received. Its canonical copy lives in the custom.star_ratings metafield.
type History []Rating

// ParseHistory decodes the stored JSON array. An empty value or JSON null is
// an empty history. Anything else that is not an array of integers in 1..5
// yields ErrCorruptHistory.
func ParseHistory(raw string) (History, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return History{}, nil
	}

	var values []int
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return History{}, fmt.Errorf("%w: %v", ErrCorruptHistory, err)
	}

	h := make(History, 0, len(values))
	for i, v := range values {
		r := Rating(v)
		if !r.Valid() {
			return History{}, fmt.Errorf("%w: element %d is %d", ErrCorruptHistory, i, v)
		}
		h = append(h, r)
	}
	return h, nil
}

// Encode renders the history in its stored form, e.g. "[5,5,4]".
func (h History) Encode() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, r := range h {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(r)))
	}
	b.WriteByte(']')
	return b.String()
}

// Append returns a new history with r added at the end. The receiver is not
// modified.
func (h History) Append(r Rating) History {
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	return append(out, r)
}

// Ints returns the history as plain integers for JSON responses.
func (h History) Ints() []int {
	out := make([]int, len(h))
	for i, r := range h {
		out[i] = int(r)
	}
	return out
}

// Aggregate recomputes the average and count from the raw history.
func (h History) Aggregate() Aggregate {
	if len(h) == 0 {
		return Aggregate{Average: decimal.Zero, Count: 0}
	}
	var sum int64
	for _, r := range h {
		sum += int64(r)
	}
	count := int64(len(h))
	return Aggregate{
		Average: decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(count), 1),
		Count:   len(h),
	}
}

// Aggregate is the derived (average, count) pair. Average is rounded half-up
// to one decimal place from the exact sum; it is display data only.
type Aggregate struct {
	Average decimal.Decimal
	Count   int
}

// AverageString renders the average with exactly one decimal ("4.0").
func (a Aggregate) AverageString() string {
	return a.Average.StringFixed(1)
}
