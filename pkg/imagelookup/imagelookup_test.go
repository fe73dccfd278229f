package imagelookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nitkach/mares/pkg/errmodel"
)

func TestFind_QueryAndDecode(t *testing.T) {
	var (
		query url.Values
		agent string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, agent = r.URL.Query(), r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"images":[{"id":42,"representations":{"medium":"https://cdn.example/42.png","large":"x"}}],"total":1}`))
	}))
	defer srv.Close()

	c := New(WithSearchURL(srv.URL), WithUserAgent("test-agent"))
	img, ok, err := c.Find(context.Background(), "Twilight Sparkle")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Image{ID: 42, URL: "https://cdn.example/42.png"}, img)
	require.Equal(t, "1", query.Get("per_page"))
	require.Equal(t, "random", query.Get("sf"))
	require.Equal(t, "score.gte:100, Twilight Sparkle, pony, mare, !irl", query.Get("q"))
	require.Equal(t, "test-agent", agent)
}

func TestFind_NoImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"images":[],"total":0}`))
	}))
	defer srv.Close()

	_, ok, err := New(WithSearchURL(srv.URL)).Find(context.Background(), "Nobody")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFind_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"images":[{"id":7,"representations":{"medium":"m"}}]}`))
	}))
	defer srv.Close()

	c := New(WithSearchURL(srv.URL), WithRetry(time.Millisecond, 3))
	img, ok, err := c.Find(context.Background(), "Rarity")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 7, img.ID)
	require.EqualValues(t, 3, calls.Load())
}

func TestFind_PermanentFailureIsUpstreamError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(WithSearchURL(srv.URL), WithRetry(time.Millisecond, 3))
	_, _, err := c.Find(context.Background(), "Rarity")
	require.Error(t, err)
	require.True(t, errmodel.IsCategory(err, errmodel.CategoryUpstream))
	require.EqualValues(t, 1, calls.Load(), "4xx must not be retried")
}
