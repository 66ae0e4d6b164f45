package history

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type window struct {
	start, end time.Time
}

type stubSource struct {
	calls   []window
	buckets func(call int, start time.Time) ([]Bucket, error)
}

func (s *stubSource) WeightBuckets(_ context.Context, start, end time.Time) ([]Bucket, error) {
	s.calls = append(s.calls, window{start, end})
	if s.buckets == nil {
		return nil, nil
	}
	return s.buckets(len(s.calls)-1, start)
}

type stubSheet struct {
	rows []Row
	err  error
}

func (s *stubSheet) AppendRow(_ context.Context, row Row) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

var fixedNow = time.Date(2024, time.March, 15, 13, 45, 0, 0, time.UTC)

func newTestFetcher(src BucketSource, dest SheetWriter, logs *bytes.Buffer) *Fetcher {
	return NewFetcher(src, dest,
		WithDelay(0),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(log.New(logs, "", 0)),
	)
}

func TestChunksCoverRangeOnceOldestFirst(t *testing.T) {
	for from := 0; from <= 35; from++ {
		for to := from; to <= from+95; to++ {
			chunks, err := Chunks(from, to)
			require.NoError(t, err)

			seen := make(map[int]int)
			for n, c := range chunks {
				require.GreaterOrEqual(t, c.OldestDaysAgo, c.NewestDaysAgo)
				require.LessOrEqual(t, c.OldestDaysAgo-c.NewestDaysAgo+1, ChunkDays)
				if n > 0 {
					require.Less(t, c.OldestDaysAgo, chunks[n-1].NewestDaysAgo)
				}
				for d := c.NewestDaysAgo; d <= c.OldestDaysAgo; d++ {
					seen[d]++
				}
			}
			require.Len(t, seen, to-from+1)
			for d := from; d <= to; d++ {
				require.Equal(t, 1, seen[d], "day %d in range %d..%d", d, from, to)
			}
		}
	}
}

func TestChunksHistoryRange(t *testing.T) {
	chunks, err := Chunks(1, 600)
	require.NoError(t, err)
	require.Len(t, chunks, 20)
	require.Equal(t, Chunk{OldestDaysAgo: 600, NewestDaysAgo: 571}, chunks[0])
	require.Equal(t, Chunk{OldestDaysAgo: 570, NewestDaysAgo: 541}, chunks[1])
	require.Equal(t, Chunk{OldestDaysAgo: 30, NewestDaysAgo: 1}, chunks[19])
}

func TestChunksSingleDay(t *testing.T) {
	chunks, err := Chunks(1, 1)
	require.NoError(t, err)
	require.Equal(t, []Chunk{{OldestDaysAgo: 1, NewestDaysAgo: 1}}, chunks)
}

func TestChunksRejectInvalidRange(t *testing.T) {
	_, err := Chunks(-1, 5)
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = Chunks(5, 4)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestChunkWindow(t *testing.T) {
	start, end := Chunk{OldestDaysAgo: 30, NewestDaysAgo: 1}.Window(fixedNow, time.UTC)
	require.Equal(t, time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2024, time.March, 14, 23, 59, 59, 999000000, time.UTC), end)
}

func TestToPounds(t *testing.T) {
	require.Equal(t, 154.3, ToPounds(70.0))
	require.Equal(t, 0.0, ToPounds(0))
	require.Equal(t, 220.5, ToPounds(100))
}

func TestRowsSkipEmptyBucketsAndUseFirstSample(t *testing.T) {
	buckets := []Bucket{
		{Start: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
		{Start: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), Samples: []float64{70, 90}},
	}

	rows := Rows(buckets, time.UTC)
	require.Equal(t, []Row{{Date: "2024-03-11", Pounds: 154.3}}, rows)
}

func TestRowsDateInLocation(t *testing.T) {
	loc := time.FixedZone("PST", -8*60*60)
	start := time.Date(2024, 3, 11, 0, 0, 0, 0, loc)

	rows := Rows([]Bucket{{Start: start.UTC(), Samples: []float64{80}}}, loc)
	require.Len(t, rows, 1)
	require.Equal(t, "2024-03-11", rows[0].Date)
}

func TestFetchAndAppendYesterday(t *testing.T) {
	src := &stubSource{buckets: func(_ int, start time.Time) ([]Bucket, error) {
		return []Bucket{{Start: start, Samples: []float64{70}}}, nil
	}}
	sheet := &stubSheet{}

	res, err := newTestFetcher(src, sheet, &bytes.Buffer{}).FetchAndAppend(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, Result{Chunks: 1, Rows: 1}, res)
	require.Equal(t, []Row{{Date: "2024-03-14", Pounds: 154.3}}, sheet.rows)

	require.Len(t, src.calls, 1)
	require.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), src.calls[0].start)
	require.Equal(t, time.Date(2024, 3, 14, 23, 59, 59, 999000000, time.UTC), src.calls[0].end)
}

func TestFetchAndAppendEmptyBucketAppendsNothing(t *testing.T) {
	src := &stubSource{buckets: func(_ int, start time.Time) ([]Bucket, error) {
		return []Bucket{{Start: start}}, nil
	}}
	sheet := &stubSheet{}

	res, err := newTestFetcher(src, sheet, &bytes.Buffer{}).FetchAndAppend(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Zero(t, res.Rows)
	require.Empty(t, sheet.rows)
}

func TestFetchAndAppendTwiceDuplicatesRows(t *testing.T) {
	src := &stubSource{buckets: func(_ int, start time.Time) ([]Bucket, error) {
		return []Bucket{{Start: start, Samples: []float64{70}}}, nil
	}}
	sheet := &stubSheet{}
	f := newTestFetcher(src, sheet, &bytes.Buffer{})

	_, err := f.FetchAndAppend(context.Background(), 1, 1)
	require.NoError(t, err)
	_, err = f.FetchAndAppend(context.Background(), 1, 1)
	require.NoError(t, err)

	require.Len(t, sheet.rows, 2)
	require.Equal(t, sheet.rows[0], sheet.rows[1])
}

func TestFetchAndAppendContinuesAfterChunkFailure(t *testing.T) {
	src := &stubSource{buckets: func(call int, start time.Time) ([]Bucket, error) {
		if call == 1 {
			return nil, errors.New("rate limited")
		}
		return []Bucket{{Start: start, Samples: []float64{70}}}, nil
	}}
	sheet := &stubSheet{}
	logs := &bytes.Buffer{}

	res, err := newTestFetcher(src, sheet, logs).FetchAndAppend(context.Background(), 1, 90)
	require.NoError(t, err)
	require.Equal(t, Result{Chunks: 3, FailedChunks: 1, Rows: 2}, res)
	require.Len(t, src.calls, 3)
	require.Equal(t, []string{"2023-12-16", "2024-02-14"}, []string{sheet.rows[0].Date, sheet.rows[1].Date})
	require.Contains(t, logs.String(), "60 to 31 days ago")
	require.Contains(t, logs.String(), "rate limited")
}

func TestFetchAndAppendAppendFailureFailsChunk(t *testing.T) {
	src := &stubSource{buckets: func(_ int, start time.Time) ([]Bucket, error) {
		return []Bucket{{Start: start, Samples: []float64{70}}}, nil
	}}
	sheet := &stubSheet{err: errors.New("quota exceeded")}

	res, err := newTestFetcher(src, sheet, &bytes.Buffer{}).FetchAndAppend(context.Background(), 1, 60)
	require.NoError(t, err)
	require.Equal(t, Result{Chunks: 2, FailedChunks: 2}, res)
}

func TestFetchAndAppendInvalidRange(t *testing.T) {
	src := &stubSource{}
	_, err := newTestFetcher(src, &stubSheet{}, &bytes.Buffer{}).FetchAndAppend(context.Background(), 3, 2)
	require.ErrorIs(t, err, ErrInvalidRange)
	require.Empty(t, src.calls)
}

func TestFetchAndAppendStopsWhenCancelledBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &stubSource{buckets: func(int, time.Time) ([]Bucket, error) {
		cancel()
		return nil, nil
	}}
	f := NewFetcher(src, &stubSheet{}, WithDelay(time.Hour), WithLogger(log.New(&bytes.Buffer{}, "", 0)))

	res, err := f.FetchAndAppend(ctx, 1, 600)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, res.Chunks)
	require.Len(t, src.calls, 1)
}

type stubAuthorizer struct {
	err   error
	calls int
}

func (a *stubAuthorizer) AccessToken(context.Context) (string, error) {
	a.calls++
	return "token", a.err
}

func TestFetchAndAppendChecksAuthorizersFirst(t *testing.T) {
	missing := errors.New("oauth client ID and secret are not configured")
	for _, r := range [][2]int{{1, 1}, {1, 90}} {
		src := &stubSource{}
		sheet := &stubSheet{}
		fit := &stubAuthorizer{}
		sheets := &stubAuthorizer{err: missing}
		f := NewFetcher(src, sheet, WithDelay(time.Hour), WithAuthorizers(fit, sheets),
			WithLogger(log.New(&bytes.Buffer{}, "", 0)))

		res, err := f.FetchAndAppend(context.Background(), r[0], r[1])
		require.ErrorIs(t, err, missing)
		require.Zero(t, res)
		require.Empty(t, src.calls)
		require.Empty(t, sheet.rows)
		require.Equal(t, 1, fit.calls)
	}
}

func TestFetchAndAppendWithAuthorizedSessions(t *testing.T) {
	src := &stubSource{buckets: func(_ int, start time.Time) ([]Bucket, error) {
		return []Bucket{{Start: start, Samples: []float64{70}}}, nil
	}}
	sheet := &stubSheet{}
	auth := &stubAuthorizer{}
	f := NewFetcher(src, sheet, WithDelay(0), WithAuthorizers(auth),
		WithLocation(time.UTC), WithClock(func() time.Time { return fixedNow }))

	res, err := f.FetchAndAppend(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, Result{Chunks: 1, Rows: 1}, res)
	require.Equal(t, 1, auth.calls)
}
