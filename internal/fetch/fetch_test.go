package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Config{Headers: map[string]string{"X-Test": "yes"}})
	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestGetFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(Config{}).Get(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestGetRotatesProxies(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]string{}
	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits[name] = r.URL.Query().Get("url")
			mu.Unlock()
			w.Write([]byte(name))
		}
	}
	p1 := httptest.NewServer(handler("p1"))
	defer p1.Close()
	p2 := httptest.NewServer(handler("p2"))
	defer p2.Close()

	f := NewHTTPFetcher(Config{Proxies: []string{p1.URL + "/raw?url=", " ", p2.URL + "/raw?url="}})
	target := "https://status.example.com/feed?x=1"

	first, err := f.Get(context.Background(), target)
	require.NoError(t, err)
	second, err := f.Get(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, "p1", string(first))
	assert.Equal(t, "p2", string(second))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, target, hits["p1"])
	assert.Equal(t, target, hits["p2"])
}

func TestProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Config{})
	require.NoError(t, f.Probe(context.Background(), srv.URL))

	status.Store(http.StatusServiceUnavailable)
	require.Error(t, f.Probe(context.Background(), srv.URL))
}
