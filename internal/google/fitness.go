package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/fitness/v1"
	"google.golang.org/api/option"

	"github.com/digitaldrywood/fitweight/internal/history"
)

const (
	weightDataType   = "com.google.weight.summary"
	weightDataSource = "derived:com.google.weight:com.google.android.gms:merge_weight"
	dayMillis        = int64(24 * time.Hour / time.Millisecond)
)

// FitClient reads aggregated weight samples from the Google Fit REST API.
type FitClient struct {
	service *fitness.Service
}

// NewFitClient authenticates every request with a token from src. base is the
// underlying HTTP client; nil means http.DefaultClient. A non-empty endpoint
// replaces the API base URL.
func NewFitClient(ctx context.Context, src oauth2.TokenSource, base *http.Client, endpoint string) (*FitClient, error) {
	opts := []option.ClientOption{option.WithHTTPClient(authorizedClient(src, base))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	srv, err := fitness.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Fitness client: %w", err)
	}
	return &FitClient{service: srv}, nil
}

// WeightBuckets issues one aggregation request for the weight data source over
// [start, end], bucketed by day. A bucket's sample is the first value of its
// first point; a first point without a value fails the request.
func (c *FitClient) WeightBuckets(ctx context.Context, start, end time.Time) ([]history.Bucket, error) {
	req := &fitness.AggregateRequest{
		AggregateBy: []*fitness.AggregateBy{
			{
				DataTypeName: weightDataType,
				DataSourceId: weightDataSource,
			},
		},
		BucketByTime:    &fitness.BucketByTime{DurationMillis: dayMillis},
		StartTimeMillis: start.UnixMilli(),
		EndTimeMillis:   end.UnixMilli(),
	}

	resp, err := c.service.Users.Dataset.Aggregate("me", req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("aggregate weight: %w", err)
	}

	buckets := make([]history.Bucket, 0, len(resp.Bucket))
	for _, b := range resp.Bucket {
		if b == nil {
			continue
		}
		bucket := history.Bucket{Start: time.UnixMilli(b.StartTimeMillis)}
		if len(b.Dataset) > 0 && b.Dataset[0] != nil && len(b.Dataset[0].Point) > 0 {
			p := b.Dataset[0].Point[0]
			if p == nil || len(p.Value) == 0 || p.Value[0] == nil {
				return nil, fmt.Errorf("malformed weight point in bucket starting %d", b.StartTimeMillis)
			}
			bucket.Samples = []float64{p.Value[0].FpVal}
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}
