package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/ratingsync/internal/application"
	"github.com/ericfisherdev/ratingsync/internal/domain/model"
)

const (
	testShop    = "demo.myshopify.com"
	testProduct = model.ProductID("8352823935137")
)

var testCredential = model.Credential{ShopDomain: testShop, AccessToken: "shpat_test"}

type ratingFixture struct {
	svc     *application.RatingService
	fields  *fakeMetafields
	creds   *fakeCredentialStore
	metrics *fakeRatingMetrics
}

func newRatingFixture(t *testing.T, opts application.RatingServiceOptions) *ratingFixture {
	t.Helper()
	f := &ratingFixture{
		fields:  newFakeMetafields(),
		creds:   newFakeCredentialStore(testCredential),
		metrics: newFakeRatingMetrics(),
	}
	f.svc = application.NewRatingService(f.creds, f.fields, f.metrics, opts, discardLogger())
	return f
}

func TestSubmitRating_EmptyHistory(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})

	agg, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, 4)
	require.NoError(t, err)
	assert.Equal(t, "4.0", agg.AverageString())
	assert.Equal(t, 1, agg.Count)

	history, ok := f.fields.get(testShop, model.StarRatingsRef(testProduct))
	require.True(t, ok)
	assert.Equal(t, "[4]", history)

	avg, _ := f.fields.get(testShop, model.AverageRatingRef(testProduct))
	count, _ := f.fields.get(testShop, model.TotalRatingsRef(testProduct))
	assert.Equal(t, "4.0", avg)
	assert.Equal(t, "1", count)
	assert.Equal(t, 1, f.metrics.outcomes[application.OutcomeAccepted])
}

func TestSubmitRating_AppendsAndRecomputes(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	f.fields.put(testShop, model.StarRatingsRef(testProduct), "[5,5,4]")

	agg, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, 1)
	require.NoError(t, err)
	assert.Equal(t, "3.8", agg.AverageString())
	assert.Equal(t, 4, agg.Count)

	history, _ := f.fields.get(testShop, model.StarRatingsRef(testProduct))
	assert.Equal(t, "[5,5,4,1]", history)
}

func TestSubmitRating_WriteOrderAndTypes(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})

	_, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, 5)
	require.NoError(t, err)

	require.Len(t, f.fields.sets, 3)
	assert.Equal(t, model.StarRatingsRef(testProduct), f.fields.sets[0].field.Ref)
	assert.Equal(t, model.MetafieldJSON, f.fields.sets[0].field.Type)
	assert.Equal(t, model.AverageRatingRef(testProduct), f.fields.sets[1].field.Ref)
	assert.Equal(t, model.MetafieldNumberDecimal, f.fields.sets[1].field.Type)
	assert.Equal(t, model.TotalRatingsRef(testProduct), f.fields.sets[2].field.Ref)
	assert.Equal(t, model.MetafieldNumberInteger, f.fields.sets[2].field.Type)
}

func TestSubmitRating_CorruptHistoryStartsOver(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	f.fields.put(testShop, model.StarRatingsRef(testProduct), "not json")

	agg, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Count)
	assert.Equal(t, "2.0", agg.AverageString())
	assert.Equal(t, 1, f.metrics.corrupt)
}

func TestSubmitRating_RejectsBeforeAnyRemoteCall(t *testing.T) {
	tests := []struct {
		name      string
		shop      string
		productID model.ProductID
		rating    model.Rating
		wantErr   error
	}{
		{name: "rating zero", shop: testShop, productID: testProduct, rating: 0, wantErr: model.ErrInvalidInput},
		{name: "rating six", shop: testShop, productID: testProduct, rating: 6, wantErr: model.ErrInvalidInput},
		{name: "empty product", shop: testShop, productID: "", rating: 3, wantErr: model.ErrInvalidInput},
		{name: "blank product", shop: testShop, productID: "   ", rating: 3, wantErr: model.ErrInvalidInput},
		{name: "bad shop", shop: "example.com", productID: testProduct, rating: 3, wantErr: model.ErrInvalidInput},
		{name: "unauthorized shop", shop: "stranger.myshopify.com", productID: testProduct, rating: 3, wantErr: model.ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRatingFixture(t, application.RatingServiceOptions{})

			agg, err := f.svc.SubmitRating(context.Background(), tt.shop, tt.productID, tt.rating)
			assert.Nil(t, agg)
			assert.ErrorIs(t, err, tt.wantErr)

			gets, sets := f.fields.calls()
			assert.Zero(t, gets)
			assert.Zero(t, sets)
			assert.Equal(t, 1, f.metrics.outcomes[application.OutcomeRejected])
		})
	}
}

func TestSubmitRating_FetchFailureAborts(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	f.fields.failGet = &model.RemoteError{Op: model.RemoteRead, StatusCode: 502}

	_, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, 3)
	var remoteErr *model.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, model.RemoteRead, remoteErr.Op)

	_, sets := f.fields.calls()
	assert.Zero(t, sets)
	assert.Equal(t, 1, f.metrics.outcomes[application.OutcomeFailed])
}

func TestSubmitRating_AverageWriteFailsThenReadHeals(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	f.fields.put(testShop, model.StarRatingsRef(testProduct), "[5,5,4]")
	f.fields.put(testShop, model.AverageRatingRef(testProduct), "4.7")
	f.fields.failSet["reviews.average_rating"] = &model.RemoteError{Op: model.RemoteWrite, StatusCode: 500}

	_, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing average")

	// History was written first and kept; count was never attempted.
	history, _ := f.fields.get(testShop, model.StarRatingsRef(testProduct))
	assert.Equal(t, "[5,5,4,1]", history)
	_, countWritten := f.fields.get(testShop, model.TotalRatingsRef(testProduct))
	assert.False(t, countWritten)
	require.Len(t, f.fields.sets, 2)

	delete(f.fields.failSet, "reviews.average_rating")

	summary, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
	require.NoError(t, err)
	assert.Equal(t, "3.8", summary.Aggregate.AverageString())
	assert.Equal(t, 4, summary.Aggregate.Count)

	avg, _ := f.fields.get(testShop, model.AverageRatingRef(testProduct))
	assert.Equal(t, "3.8", avg)
}

func TestSubmitRating_HistoryWriteFailureSkipsDerivedFields(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	f.fields.failSet["custom.star_ratings"] = errBoom

	_, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, 4)
	require.ErrorIs(t, err, errBoom)
	assert.Len(t, f.fields.sets, 1)
}

func TestSubmitRating_SequentialSubmissionsAccumulate(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})

	before, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
	require.NoError(t, err)

	_, err = f.svc.SubmitRating(context.Background(), testShop, testProduct, 5)
	require.NoError(t, err)
	_, err = f.svc.SubmitRating(context.Background(), testShop, testProduct, 3)
	require.NoError(t, err)

	after, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
	require.NoError(t, err)
	assert.Equal(t, before.Aggregate.Count+2, after.Aggregate.Count)
	assert.Equal(t, "4.0", after.Aggregate.AverageString())
}

func TestSubmitRating_SerializedConcurrentSubmissionsKeepEveryRating(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{SerializeSubmissions: true})

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, model.Rating(i%5+1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	summary, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
	require.NoError(t, err)
	assert.Equal(t, n, summary.Aggregate.Count)
	assert.Equal(t, "3.0", summary.Aggregate.AverageString())
}

func TestSubmitRating_UnserializedConcurrentSubmissionsLoseOne(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})

	// Hold both submissions at the read until each has started, so both
	// read the same empty history.
	var arrived sync.WaitGroup
	arrived.Add(2)
	f.fields.beforeGet = func() {
		arrived.Done()
		arrived.Wait()
	}

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i, r := range []model.Rating{5, 3} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, r)
			if assert.NoError(t, err) {
				counts[i] = agg.Count
			}
		}()
	}
	wg.Wait()
	f.fields.beforeGet = nil

	assert.Equal(t, []int{1, 1}, counts)
	count, _ := f.fields.get(testShop, model.TotalRatingsRef(testProduct))
	assert.Equal(t, "1", count)
	history, _ := f.fields.get(testShop, model.StarRatingsRef(testProduct))
	assert.Contains(t, []string{"[5]", "[3]"}, history)
}

func TestRatingService_RevokedTokenEvictsCachedCredential(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	cache := application.NewCredentialCache(f.creds, nil)
	svc := application.NewRatingService(cache, f.fields, f.metrics, application.RatingServiceOptions{}, discardLogger())

	_, err := svc.ReadAggregate(context.Background(), testShop, testProduct)
	require.NoError(t, err)
	require.True(t, cache.Cached(testShop))

	// The shop reinstalls elsewhere; this process still holds the old token.
	require.NoError(t, f.creds.Save(context.Background(), model.Credential{ShopDomain: testShop, AccessToken: "shpat_reinstalled"}))
	f.fields.failGet = &model.RemoteError{Op: model.RemoteRead, Ref: model.StarRatingsRef(testProduct), StatusCode: 401}

	_, err = svc.SubmitRating(context.Background(), testShop, testProduct, 4)
	require.Error(t, err)
	assert.False(t, cache.Cached(testShop))

	f.fields.failGet = nil
	_, err = svc.SubmitRating(context.Background(), testShop, testProduct, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"shpat_test", "shpat_test", "shpat_reinstalled"}, f.fields.tokens)
}

func TestRatingService_OtherRemoteErrorsKeepCachedCredential(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	cache := application.NewCredentialCache(f.creds, nil)
	svc := application.NewRatingService(cache, f.fields, f.metrics, application.RatingServiceOptions{}, discardLogger())

	f.fields.failSet["custom.star_ratings"] = &model.RemoteError{Op: model.RemoteWrite, StatusCode: 500}
	_, err := svc.SubmitRating(context.Background(), testShop, testProduct, 4)
	require.Error(t, err)
	assert.True(t, cache.Cached(testShop))

	f.fields.failSet["custom.star_ratings"] = &model.RemoteError{Op: model.RemoteWrite, StatusCode: 401}
	_, err = svc.SubmitRating(context.Background(), testShop, testProduct, 4)
	require.Error(t, err)
	assert.False(t, cache.Cached(testShop))
}

func TestReadAggregate_Absent(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})

	summary, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
	require.NoError(t, err)
	assert.Empty(t, summary.History)
	assert.Equal(t, 0, summary.Aggregate.Count)
	assert.Equal(t, "0.0", summary.Aggregate.AverageString())
}

func TestReadAggregate_CorruptHistoryDegradesToEmpty(t *testing.T) {
	for _, raw := range []string{"garbage", `[1,"x"]`, "[0,3]", "[2.5]", `{"a":1}`} {
		t.Run(raw, func(t *testing.T) {
			f := newRatingFixture(t, application.RatingServiceOptions{})
			f.fields.put(testShop, model.StarRatingsRef(testProduct), raw)

			summary, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
			require.NoError(t, err)
			assert.Empty(t, summary.History)
			assert.Equal(t, 0, summary.Aggregate.Count)
			assert.Equal(t, 1, f.metrics.corrupt)
		})
	}
}

func TestReadAggregate_WriteBackFailureIsSwallowed(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	f.fields.put(testShop, model.StarRatingsRef(testProduct), "[5,5,4,1]")
	f.fields.failSet["reviews.average_rating"] = errBoom

	summary, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 5, 4, 1}, summary.History.Ints())
	assert.Equal(t, "3.8", summary.Aggregate.AverageString())
	assert.Equal(t, 1, f.metrics.writeBacks)
}

func TestReadAggregate_FetchFailureSurfaces(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	f.fields.failGet = &model.RemoteError{Op: model.RemoteRead, Err: errBoom}

	_, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
	assert.ErrorIs(t, err, errBoom)
}

func TestReadAggregate_Unauthorized(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})

	_, err := f.svc.ReadAggregate(context.Background(), "stranger.myshopify.com", testProduct)
	assert.ErrorIs(t, err, model.ErrNotAuthorized)

	gets, sets := f.fields.calls()
	assert.Zero(t, gets)
	assert.Zero(t, sets)
}

func TestReadAggregate_CredentialStoreError(t *testing.T) {
	f := newRatingFixture(t, application.RatingServiceOptions{})
	f.creds.loadErr = errBoom

	_, err := f.svc.ReadAggregate(context.Background(), testShop, testProduct)
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, model.ErrNotAuthorized)
}

func TestRatingService_TenantsAreIsolated(t *testing.T) {
	other := model.Credential{ShopDomain: "other.myshopify.com", AccessToken: "shpat_other"}
	f := newRatingFixture(t, application.RatingServiceOptions{})
	require.NoError(t, f.creds.Save(context.Background(), other))

	_, err := f.svc.SubmitRating(context.Background(), testShop, testProduct, 5)
	require.NoError(t, err)

	summary, err := f.svc.ReadAggregate(context.Background(), other.ShopDomain, testProduct)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Aggregate.Count)
}
