package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/engine/guards" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSourceLive(t *testing.T) {
	body := `{"ts":1700000000000,"spread_bps":3.2,"depth_10bps":{"bid_usd":90000,"ask_usd":80000},"funding_apr":25.5,"basis_bps":-2,"oi_notional":1,"liq_events_5m":4,"status":"passing","warnings":[],"data_sources":{"book":"live","funding":"live","liquidations":"live"}}`
	srv := serve(t, http.StatusOK, body)

	snap, err := NewHTTPSource(srv.URL+"/api", time.Second).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.2, snap.SpreadBps)
	assert.Equal(t, Depth{Bid: 90000, Ask: 80000}, snap.Depth)
	assert.Equal(t, 4, snap.LiqEvents5m)
	assert.Equal(t, int64(1700000000000), snap.Ts.UnixMilli())
}

func TestHTTPSourceFallbackIsUnavailable(t *testing.T) {
	body := `{"spread_bps":6.5,"depth_10bps":{"bid_usd":125000,"ask_usd":130000},"data_sources":{"book":"fallback"},"error":"redis down"}`
	srv := serve(t, http.StatusOK, body)

	_, err := NewHTTPSource(srv.URL+"/api", time.Second).Snapshot(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
}

func TestHTTPSourceUnavailableSource(t *testing.T) {
	body := `{"spread_bps":1,"data_sources":{"book":"live","funding":"unavailable"}}`
	srv := serve(t, http.StatusOK, body)

	_, err := NewHTTPSource(srv.URL+"/api", time.Second).Snapshot(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestHTTPSourceServerError(t *testing.T) {
	srv := serve(t, http.StatusInternalServerError, `{"detail":"boom"}`)

	_, err := NewHTTPSource(srv.URL+"/api", time.Second).Snapshot(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestHTTPSourceUnreachable(t *testing.T) {
	_, err := NewHTTPSource("http://127.0.0.1:1", 200*time.Millisecond).Snapshot(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}
