// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

// Submission outcomes reported to driven.RatingMetrics.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// RatingSummary is the read-side view of a product's ratings.
type RatingSummary struct {
	History   model.History
	Aggregate model.Aggregate
}

// RatingServiceOptions tunes RatingService behaviour.
type RatingServiceOptions struct {
	// SerializeSubmissions holds an in-process lock per shop and product for
	// the duration of a submission. It does not help when several replicas
	// share a shop.
	SerializeSubmissions bool
}

// RatingService keeps a product's rating history and its derived average
// and count in sync on the remote platform. It holds no rating state of its
// own; every call recomputes from the stored history.
type RatingService struct {
	creds   driven.CredentialStore
	fields  driven.MetafieldClient
	metrics driven.RatingMetrics
	locks   *productLocks
	logger  *slog.Logger
}

// NewRatingService creates a RatingService. metrics and logger may be nil.
func NewRatingService(
	creds driven.CredentialStore,
	fields driven.MetafieldClient,
	metrics driven.RatingMetrics,
	opts RatingServiceOptions,
	logger *slog.Logger,
) *RatingService {
	if metrics == nil {
		metrics = nopRatingMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &RatingService{
		creds:   creds,
		fields:  fields,
		metrics: metrics,
		logger:  logger,
	}
	if opts.SerializeSubmissions {
		s.locks = newProductLocks()
	}
	return s
}

// ReadAggregate returns the product's history with a freshly computed
// average and count. The average is also written back to the remote
// aggregate field; a failure there is logged and otherwise ignored.
func (s *RatingService) ReadAggregate(ctx context.Context, shop string, productID model.ProductID) (*RatingSummary, error) {
	cred, err := s.authorize(ctx, shop, productID)
	if err != nil {
		return nil, err
	}

	history, err := s.fetchHistory(ctx, *cred, productID)
	if err != nil {
		return nil, err
	}

	agg := history.Aggregate()

	if err := s.fields.SetField(ctx, *cred, model.Metafield{
		Ref:   model.AverageRatingRef(productID),
		Value: agg.AverageString(),
		Type:  model.MetafieldNumberDecimal,
	}); err != nil {
		s.metrics.WriteBackFailed()
		s.evictOnRevoked(shop, err)
		s.logger.Warn("average write-back failed",
			"shop", shop,
			"product_id", productID,
			"error", err,
		)
	}

	return &RatingSummary{History: history, Aggregate: agg}, nil
}

// SubmitRating appends rating to the product's history and rewrites the
// history, average and count, in that order. The first failed write aborts
// the submission; earlier writes are not rolled back. Because the history
// goes first, a later ReadAggregate repairs a stale average.
//
// Two concurrent submissions for the same product can lose one rating unless
// SerializeSubmissions is enabled and both land on this process.
func (s *RatingService) SubmitRating(ctx context.Context, shop string, productID model.ProductID, rating model.Rating) (*model.Aggregate, error) {
	agg, err := s.submit(ctx, shop, productID, rating)
	switch {
	case err == nil:
		s.metrics.SubmissionRecorded(OutcomeAccepted)
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrNotAuthorized):
		s.metrics.SubmissionRecorded(OutcomeRejected)
	default:
		s.metrics.SubmissionRecorded(OutcomeFailed)
	}
	return agg, err
}

func (s *RatingService) submit(ctx context.Context, shop string, productID model.ProductID, rating model.Rating) (*model.Aggregate, error) {
	if !rating.Valid() {
		return nil, &model.ValidationError{Field: "rating", Reason: "must be a whole number between 1 and 5"}
	}
	cred, err := s.authorize(ctx, shop, productID)
	if err != nil {
		return nil, err
	}

	if s.locks != nil {
		release, err := s.locks.acquire(ctx, shop+"/"+string(productID))
		if err != nil {
			return nil, fmt.Errorf("waiting for product lock: %w", err)
		}
		defer release()
	}

	history, err := s.fetchHistory(ctx, *cred, productID)
	if err != nil {
		return nil, err
	}

	history = history.Append(rating)
	agg := history.Aggregate()

	writes := []struct {
		step  string
		field model.Metafield
	}{
		{"history", model.Metafield{Ref: model.StarRatingsRef(productID), Value: history.Encode(), Type: model.MetafieldJSON}},
		{"average", model.Metafield{Ref: model.AverageRatingRef(productID), Value: agg.AverageString(), Type: model.MetafieldNumberDecimal}},
		{"count", model.Metafield{Ref: model.TotalRatingsRef(productID), Value: strconv.Itoa(agg.Count), Type: model.MetafieldNumberInteger}},
	}
	for _, w := range writes {
		if err := s.fields.SetField(ctx, *cred, w.field); err != nil {
			s.evictOnRevoked(shop, err)
			s.logger.Error("rating write failed",
				"shop", shop,
				"product_id", productID,
				"step", w.step,
				"error", err,
			)
			return nil, fmt.Errorf("writing %s: %w", w.step, err)
		}
	}

	s.logger.Info("rating recorded",
		"shop", shop,
		"product_id", productID,
		"rating", int(rating),
		"average", agg.AverageString(),
		"count", agg.Count,
	)
	return &agg, nil
}

// authorize validates the request and loads the shop's credential. No remote
// call is made when it fails.
func (s *RatingService) authorize(ctx context.Context, shop string, productID model.ProductID) (*model.Credential, error) {
	if err := model.ValidateShopDomain(shop); err != nil {
		return nil, err
	}
	if err := productID.Validate(); err != nil {
		return nil, err
	}

	cred, err := s.creds.Load(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrNotAuthorized, shop)
	}
	return cred, nil
}

// fetchHistory reads and parses the stored history. An absent field is an
// empty history. A corrupt one is logged and also treated as empty.
func (s *RatingService) fetchHistory(ctx context.Context, cred model.Credential, productID model.ProductID) (model.History, error) {
	raw, found, err := s.fields.GetField(ctx, cred, model.StarRatingsRef(productID))
	if err != nil {
		s.evictOnRevoked(cred.ShopDomain, err)
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if !found {
		return model.History{}, nil
	}

	history, err := model.ParseHistory(raw)
	if err != nil {
		s.metrics.CorruptHistoryDetected()
		s.logger.Warn("corrupt rating history treated as empty",
			"shop", cred.ShopDomain,
			"product_id", productID,
			"error", err,
		)
		return model.History{}, nil
	}
	return history, nil
}

// credentialEvicter is implemented by credential stores that cache.
type credentialEvicter interface {
	Evict(shop string)
}

// evictOnRevoked drops a cached credential the remote platform no longer
// accepts, so a token reinstalled through another replica is loaded from
// the store on the next request.
func (s *RatingService) evictOnRevoked(shop string, err error) {
	var rerr *model.RemoteError
	if !errors.As(err, &rerr) || rerr.StatusCode != http.StatusUnauthorized {
		return
	}
	if ev, ok := s.creds.(credentialEvicter); ok {
		ev.Evict(shop)
		s.logger.Warn("access token rejected, cached credential dropped", "shop", shop)
	}
}

type nopRatingMetrics struct{}

func (nopRatingMetrics) SubmissionRecorded(string) {}
func (nopRatingMetrics) CorruptHistoryDetected()   {}
func (nopRatingMetrics) WriteBackFailed()          {}
