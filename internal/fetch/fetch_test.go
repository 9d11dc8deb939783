package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/worldpam/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURLRejectsPrivateAndLocalhost(t *testing.T) {
	cases := []string{
		"http://localhost/feed",
		"http://127.0.0.1/feed",
		"http://0.0.0.0/feed",
		"http://10.0.0.5/feed",
		"http://192.168.1.1/feed",
		"http://169.254.1.1/feed",
		"ftp://example.com/feed",
		"not a url",
	}
	for _, u := range cases {
		assert.False(t, ValidateURL(u, nil), u)
	}
}

func TestValidateURLWhitelist(t *testing.T) {
	allowed := map[string]bool{"reuters.com": true}
	assert.True(t, ValidateURL("https://reuters.com/feed", allowed))
	assert.True(t, ValidateURL("https://www.reuters.com/feed", allowed))
	assert.False(t, ValidateURL("https://evil.com/feed", allowed))
}

func TestFetchSuccessAndCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<rss></rss>"))
	}))
	defer srv.Close()

	f := New(nil, metrics.New(), testLogger())
	f.AllowLoopback()
	res := f.Fetch(context.Background(), "src", srv.URL, time.Second)
	require.True(t, res.OK)
	assert.Equal(t, "<rss></rss>", string(res.Data))
	assert.Equal(t, 1, hits)

	res2 := f.Fetch(context.Background(), "src", srv.URL, time.Second)
	require.True(t, res2.OK)
	assert.Equal(t, 1, hits, "second fetch should be served from cache")
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(nil, metrics.New(), testLogger())
	f.AllowLoopback()
	res := f.Fetch(context.Background(), "src", srv.URL, time.Second)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestFetchRejectsBlockedHostWithoutNetworkCall(t *testing.T) {
	f := New(nil, metrics.New(), testLogger())
	res := f.Fetch(context.Background(), "src", "http://127.0.0.1:9/feed", time.Second)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestFetchRejectsOversizeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		big := make([]byte, maxResponse+1024)
		w.Write(big)
	}))
	defer srv.Close()

	f := New(nil, metrics.New(), testLogger())
	f.AllowLoopback()
	res := f.Fetch(context.Background(), "src", srv.URL, 5*time.Second)
	assert.False(t, res.OK)
}

func TestFetchAllReturnsOneEntryPerInput(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	f := New(nil, metrics.New(), testLogger())
	f.AllowLoopback()
	reqs := []Request{
		{SourceName: "good", URL: good.URL, Timeout: time.Second},
		{SourceName: "bad", URL: bad.URL, Timeout: time.Second},
		{SourceName: "unreachable", URL: "http://localhost:1/nope", Timeout: time.Second},
	}

	results := f.FetchAll(context.Background(), reqs, 2)
	require.Len(t, results, 3)
	assert.True(t, results["good"].OK)
	assert.False(t, results["bad"].OK)
	assert.False(t, results["unreachable"].OK)
}

func TestHostLimiterExceeded(t *testing.T) {
	hl := newHostLimiter()
	url := "https://example.com/feed"
	allowed := 0
	for i := 0; i < 20; i++ {
		if hl.Allow(url) {
			allowed++
		}
	}
	assert.Less(t, allowed, 20)
}
