// Package history backfills daily weight samples from a fitness data source
// into a spreadsheet, one bounded time window at a time.
package history

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/samber/lo"
)

const (
	// ChunkDays is the widest window requested in one aggregation call.
	ChunkDays = 30

	kgToLb = 2.20462
)

var ErrInvalidRange = errors.New("invalid day range")

// Bucket is one day of aggregated samples as returned by the data source.
type Bucket struct {
	Start   time.Time
	Samples []float64
}

// Row is one line appended to the destination sheet.
type Row struct {
	Date   string
	Pounds float64
}

// Chunk is an inclusive window of days counted back from today.
// OldestDaysAgo >= NewestDaysAgo.
type Chunk struct {
	OldestDaysAgo int
	NewestDaysAgo int
}

func (c Chunk) String() string {
	return fmt.Sprintf("%d to %d days ago", c.OldestDaysAgo, c.NewestDaysAgo)
}

// Window returns the first and last instant covered by c, relative to now in loc.
func (c Chunk) Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := now.In(loc).Date()
	start := time.Date(y, m, d-c.OldestDaysAgo, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d-c.NewestDaysAgo, 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}

// BucketSource returns day buckets of weight samples in [start, end].
type BucketSource interface {
	WeightBuckets(ctx context.Context, start, end time.Time) ([]Bucket, error)
}

// SheetWriter appends a row after the last row of the destination.
type SheetWriter interface {
	AppendRow(ctx context.Context, row Row) error
}

// Result summarises one FetchAndAppend run.
type Result struct {
	Chunks       int
	FailedChunks int
	Rows         int
}

// Chunks partitions [fromDaysAgo, toDaysAgo] into windows of at most
// ChunkDays days, oldest first.
func Chunks(fromDaysAgo, toDaysAgo int) ([]Chunk, error) {
	if fromDaysAgo < 0 || toDaysAgo < fromDaysAgo {
		return nil, fmt.Errorf("%w: from %d to %d days ago", ErrInvalidRange, fromDaysAgo, toDaysAgo)
	}

	var chunks []Chunk
	for i := toDaysAgo; i >= fromDaysAgo; i -= ChunkDays {
		chunks = append(chunks, Chunk{
			OldestDaysAgo: i,
			NewestDaysAgo: max(i-ChunkDays+1, fromDaysAgo),
		})
	}
	return chunks, nil
}

// ToPounds converts kilograms to pounds rounded to one decimal.
func ToPounds(kg float64) float64 {
	return math.Round(kg*kgToLb*10) / 10
}

// Rows turns the buckets holding at least one sample into rows dated in loc.
// Only the first sample of a bucket is used.
func Rows(buckets []Bucket, loc *time.Location) []Row {
	return lo.FilterMap(buckets, func(b Bucket, _ int) (Row, bool) {
		if len(b.Samples) == 0 {
			return Row{}, false
		}
		return Row{
			Date:   b.Start.In(loc).Format("2006-01-02"),
			Pounds: ToPounds(b.Samples[0]),
		}, true
	})
}

// Authorizer yields the access token a source or writer authenticates with.
type Authorizer interface {
	AccessToken(ctx context.Context) (string, error)
}

type Option func(*Fetcher)

func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithLocation sets the zone that defines day boundaries and row dates.
func WithLocation(loc *time.Location) Option {
	return func(f *Fetcher) {
		f.loc = loc
	}
}

// WithDelay sets the pause between chunks.
func WithDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.delay = d
	}
}

// WithAuthorizers registers sessions that must produce a token before the
// first chunk is requested. Their errors end the run instead of failing chunks.
func WithAuthorizers(auths ...Authorizer) Option {
	return func(f *Fetcher) {
		f.auths = append(f.auths, auths...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// Fetcher copies weight history from a BucketSource into a SheetWriter.
type Fetcher struct {
	source BucketSource
	dest   SheetWriter
	logger *log.Logger
	loc    *time.Location
	delay  time.Duration
	now    func() time.Time
	auths  []Authorizer
}

func NewFetcher(source BucketSource, dest SheetWriter, opts ...Option) *Fetcher {
	f := &Fetcher{
		source: source,
		dest:   dest,
		logger: log.Default(),
		loc:    time.Local,
		delay:  time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAndAppend requests every chunk of [fromDaysAgo, toDaysAgo] and appends
// one row per day with a sample. A failing chunk is logged and skipped, but an
// authorizer without a token aborts the run before any request. Rows
// are appended unconditionally, so repeating a range duplicates them.
func (f *Fetcher) FetchAndAppend(ctx context.Context, fromDaysAgo, toDaysAgo int) (Result, error) {
	chunks, err := Chunks(fromDaysAgo, toDaysAgo)
	if err != nil {
		return Result{}, err
	}
	for _, a := range f.auths {
		if _, err := a.AccessToken(ctx); err != nil {
			return Result{}, err
		}
	}

	var res Result
	for n, chunk := range chunks {
		if n > 0 {
			if err := f.sleep(ctx); err != nil {
				return res, err
			}
		}

		res.Chunks++
		rows, err := f.fetchChunk(ctx, chunk)
		res.Rows += rows
		if err != nil {
			res.FailedChunks++
			f.logger.Printf("Error fetching data for chunk %s: %v", chunk, err)
		}
	}
	return res, nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, chunk Chunk) (int, error) {
	start, end := chunk.Window(f.now(), f.loc)

	buckets, err := f.source.WeightBuckets(ctx, start, end)
	if err != nil {
		return 0, err
	}

	appended := 0
	for _, row := range Rows(buckets, f.loc) {
		if err := f.dest.AppendRow(ctx, row); err != nil {
			return appended, err
		}
		appended++
	}
	return appended, nil
}

func (f *Fetcher) sleep(ctx context.Context) error {
	if f.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
