package speed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/model-hub/internal/logging"
)

func TestClassifyBoundaries(t *testing.T) {
	thresholds := DefaultThresholds()
	cases := []struct {
		bps  float64
		want Tier
	}{
		{900_000, Slow},
		{999_999, Slow},
		{1_000_000, Medium},
		{3_000_000, Medium},
		{4_999_999, Medium},
		{5_000_000, Fast},
		{8_000_000, Fast},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, thresholds.Classify(tc.bps), "bps=%v", tc.bps)
	}
}

func TestIntervalsPerTier(t *testing.T) {
	intervals := DefaultIntervals()
	assert.Equal(t, 2*time.Second, intervals.For(Slow))
	assert.Equal(t, time.Second, intervals.For(Medium))
	assert.Equal(t, 500*time.Millisecond, intervals.For(Fast))
	assert.Equal(t, time.Second, intervals.For(Tier("unknown")))
}

func TestStateDefaultsToMedium(t *testing.T) {
	var state State
	assert.Equal(t, Medium, state.Tier())
	assert.True(t, state.MeasuredAt().IsZero())
	assert.True(t, state.Stale(time.Now(), time.Hour))

	assert.Equal(t, Medium, state.Set(Fast))
	assert.Equal(t, Fast, state.Tier())
}

func TestRecordGuardsZeroElapsed(t *testing.T) {
	c := NewClassifier(nil, Options{Logger: logging.NewDiscard()})
	c.State().Set(Slow)

	tier, ok := c.Record(1024, 0)
	assert.False(t, ok)
	assert.Equal(t, Slow, tier)
	assert.True(t, c.State().MeasuredAt().IsZero())

	tier, ok = c.Record(0, time.Second)
	assert.False(t, ok)
	assert.Equal(t, Slow, tier)
}

func TestRecordClassifiesThroughput(t *testing.T) {
	c := NewClassifier(nil, Options{Logger: logging.NewDiscard()})

	// 1,000,000 bytes/s = 8 Mbps
	tier, ok := c.Record(1_000_000, time.Second)
	require.True(t, ok)
	assert.Equal(t, Fast, tier)
	assert.False(t, c.State().MeasuredAt().IsZero())

	// 112,500 bytes/s = 900 kbps
	tier, ok = c.Record(112_500, time.Second)
	require.True(t, ok)
	assert.Equal(t, Slow, tier)
}

func TestReviseOnlyCrossesOuterThresholds(t *testing.T) {
	c := NewClassifier(nil, Options{Logger: logging.NewDiscard()})

	tier, changed := c.Revise(3_000_000)
	assert.False(t, changed)
	assert.Equal(t, Medium, tier)

	tier, changed = c.Revise(500_000)
	assert.True(t, changed)
	assert.Equal(t, Slow, tier)

	// 回到中间区间不会把 slow 拉回 medium。
	tier, changed = c.Revise(3_000_000)
	assert.False(t, changed)
	assert.Equal(t, Slow, tier)

	tier, changed = c.Revise(9_000_000)
	assert.True(t, changed)
	assert.Equal(t, Fast, tier)
	assert.True(t, c.State().MeasuredAt().IsZero(), "revision must not refresh the measurement window")
}

func TestMeasureSendsNoCacheRangeRequest(t *testing.T) {
	seen := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(strings.Repeat("x", 1024)))
	}))
	defer server.Close()

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	c := NewClassifier(nil, Options{
		Client:      server.Client(),
		Logger:      logging.NewDiscard(),
		SampleBytes: 1024,
		Now:         clock,
	})

	// 1024 bytes in 1s = 8192 bps
	tier := c.Measure(context.Background(), server.URL+"/A.glb")
	assert.Equal(t, Slow, tier)
	headers := <-seen
	assert.Equal(t, "no-cache", headers.Get("Cache-Control"))
	assert.Equal(t, "no-cache", headers.Get("Pragma"))
	assert.Equal(t, "bytes=0-1023", headers.Get("Range"))
}

func TestMeasureSkipsWithinInterval(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("sample"))
	}))
	defer server.Close()

	c := NewClassifier(nil, Options{
		Client:          server.Client(),
		Logger:          logging.NewDiscard(),
		MeasureInterval: time.Hour,
	})

	c.Measure(context.Background(), server.URL)
	c.Measure(context.Background(), server.URL)
	assert.Equal(t, int32(1), hits.Load())
}

func TestMeasureFailureKeepsTier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	server.Close()

	c := NewClassifier(nil, Options{Client: server.Client(), Logger: logging.NewDiscard()})
	c.State().Set(Fast)

	assert.Equal(t, Fast, c.Measure(context.Background(), server.URL))
	assert.True(t, c.State().MeasuredAt().IsZero())
}

func TestMeasureRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClassifier(nil, Options{Client: server.Client(), Logger: logging.NewDiscard()})
	assert.Equal(t, Medium, c.Measure(context.Background(), server.URL))
	assert.True(t, c.State().MeasuredAt().IsZero())
}

func TestMeasureGivesUpOnHungSample(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "262144")
		_, _ = w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClassifier(nil, Options{
		Client:  server.Client(),
		Logger:  logging.NewDiscard(),
		Timeout: 100 * time.Millisecond,
	})
	c.State().Set(Slow)

	started := time.Now()
	assert.Equal(t, Slow, c.Measure(context.Background(), server.URL))
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.True(t, c.State().MeasuredAt().IsZero())
}
