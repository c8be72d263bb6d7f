package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/ratingsync/internal/application"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}

// writeText writes a plain-text response, used for the merchant-facing
// install pages.
func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ReviewsResponse is the JSON body of GET /reviews/{productId}. AvgRating is
// a JSON number that always carries one decimal place.
type ReviewsResponse struct {
	StarRatings  []int       `json:"starRatings"`
	AvgRating    json.Number `json:"avgRating"`
	TotalRatings int         `json:"totalRatings"`
}

// SubmitRatingResponse is the JSON body of a successful POST /submit-rating.
type SubmitRatingResponse struct {
	Success      bool   `json:"success"`
	NewAvgRating string `json:"newAvgRating"`
	TotalRatings int    `json:"totalRatings"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Error  string `json:"error,omitempty"`
}

// toReviewsResponse converts a RatingSummary to its JSON representation.
func toReviewsResponse(s *application.RatingSummary) ReviewsResponse {
	return ReviewsResponse{
		StarRatings:  s.History.Ints(),
		AvgRating:    json.Number(s.Aggregate.AverageString()),
		TotalRatings: s.Aggregate.Count,
	}
}
