package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/metric"
	"github.com/Guliveer/pusher-go/internal/model"
)

func newTestServer(t *testing.T, status *Status) (*httptest.Server, *metric.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metric.New(reg)

	s := NewHealthServer("127.0.0.1:0", reg, logger.Nop())
	if status != nil {
		s.SetStatusFunc(func() Status { return *status })
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, m
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealthConnected(t *testing.T) {
	srv, _ := newTestServer(t, &Status{
		State:     "connected",
		Connected: true,
		SocketID:  "1.2",
		Channels:  []model.Subscription{{Name: "orders", StateName: "subscribed"}},
	})

	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var h healthResponse
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "connected", h.State)
	assert.Equal(t, "1.2", h.SocketID)
	assert.Equal(t, 1, h.Channels)
}

func TestHealthDisconnected(t *testing.T) {
	srv, _ := newTestServer(t, &Status{State: "reconnecting"})

	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"degraded"`)
}

func TestHealthWithoutStatusFunc(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"unknown"`)
}

func TestChannels(t *testing.T) {
	srv, _ := newTestServer(t, &Status{
		State:    "connected",
		Channels: []model.Subscription{{Name: "a", StateName: "pending"}, {Name: "b", StateName: "failed"}},
	})

	_, body := get(t, srv.URL+"/api/channels")
	assert.JSONEq(t, `[{"name":"a","state":"pending"},{"name":"b","state":"failed"}]`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, m := newTestServer(t, nil)
	m.IncReconnect()

	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pusher_socket_reconnects_total 1")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewHealthServer("127.0.0.1:0", prometheus.NewRegistry(), logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
