package pusher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/pusher-go/internal/auth"
	"github.com/Guliveer/pusher-go/internal/config"
	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/model"
	"github.com/Guliveer/pusher-go/internal/socket"
)

const (
	testKey    = "278d425bdf160c739803"
	testSecret = "7ad3773142a6692b25b8"
)

type wireFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// stubService is a minimal channel service: it accepts sockets, checks
// subscription signatures, and fans HTTP-triggered events out to every
// socket subscribed to the channel.
type stubService struct {
	t      *testing.T
	signer *auth.Signer
	nextID atomic.Int64

	mu   sync.Mutex
	subs map[string][]*websocket.Conn
}

func newStubService(t *testing.T) *httptest.Server {
	s := &stubService{t: t, signer: auth.NewSigner(testKey, testSecret), subs: map[string][]*websocket.Conn{}}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func (s *stubService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/app/"):
		s.serveSocket(w, r)
	case strings.HasPrefix(r.URL.Path, "/apps/"):
		s.serveAPI(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *stubService) serveSocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	ctx := r.Context()
	socketID := fmt.Sprintf("%d.%d", 100+s.nextID.Add(1), 42)
	established, _ := json.Marshal(map[string]any{"socket_id": socketID, "activity_timeout": 120})
	if err := wsjson.Write(ctx, c, wireFrame{Event: "pusher:connection_established", Data: mustString(established)}); err != nil {
		return
	}

	for {
		var f wireFrame
		if err := wsjson.Read(ctx, c, &f); err != nil {
			return
		}
		if f.Event != "pusher:subscribe" {
			continue
		}
		var sd socket.SubscribeData
		if err := json.Unmarshal(f.Data, &sd); err != nil {
			return
		}
		if model.KindOf(sd.Channel).RequiresAuth() && !s.signer.VerifyChannelAuth(socketID, sd.Channel, sd.ChannelData, sd.Auth) {
			_ = wsjson.Write(ctx, c, wireFrame{Event: "pusher:subscription_error", Channel: sd.Channel, Data: mustString([]byte(`{"status":401}`))})
			continue
		}
		s.mu.Lock()
		s.subs[sd.Channel] = append(s.subs[sd.Channel], c)
		s.mu.Unlock()
		_ = wsjson.Write(ctx, c, wireFrame{Event: "pusher_internal:subscription_succeeded", Channel: sd.Channel, Data: mustString([]byte("{}"))})
	}
}

func (s *stubService) serveAPI(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if !assert.NoError(s.t, err) {
		return
	}
	params := r.URL.Query()
	want, err := s.signer.SignTriggerRequest(r.Method, r.URL.Path, body, time.Unix(mustInt(params.Get("auth_timestamp")), 0))
	if err != nil || want.Get("auth_signature") != params.Get("auth_signature") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var ev struct {
		Name    string `json:"name"`
		Channel string `json:"channel"`
		Data    string `json:"data"`
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.subs[ev.Channel]...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = wsjson.Write(r.Context(), c, wireFrame{Event: ev.Name, Channel: ev.Channel, Data: mustString([]byte(ev.Data))})
	}
	_, _ = w.Write([]byte("{}"))
}

func mustString(b []byte) json.RawMessage {
	out, _ := json.Marshal(string(b))
	return out
}

func mustInt(s string) int64 {
	var n int64
	_, _ = fmt.Sscan(s, &n)
	return n
}

func testConfig(srv *httptest.Server) *config.Config {
	host := strings.TrimPrefix(srv.URL, "http://")
	off := false
	return &config.Config{
		AppID:   "3",
		Key:     testKey,
		Secret:  testSecret,
		UseTLS:  &off,
		Host:    host,
		APIHost: host,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&config.Config{Key: "k"}, logger.Nop(), Options{})
	assert.True(t, errs.Is(err, errs.KindConfig))
}

func TestEncryptedRoundTrip(t *testing.T) {
	srv := newStubService(t)
	c, err := New(testConfig(srv), logger.Nop(), Options{})
	require.NoError(t, err)
	defer c.Disconnect()

	const channel = "private-encrypted-vault"
	subscribed := make(chan struct{}, 1)
	received := make(chan model.Event, 1)
	c.BindFunc(channel, "pusher:subscription_succeeded", func(model.Event) { subscribed <- struct{}{} })
	c.BindFunc(channel, "secret", func(ev model.Event) { received <- ev })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Subscribe(ctx, channel))
	require.NoError(t, c.ConnectAndWait(context.Background(), ctx))

	id, err := c.SocketID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case <-subscribed:
	case <-ctx.Done():
		t.Fatal("subscription not acknowledged")
	}

	require.NoError(t, c.Trigger(ctx, channel, "secret", "launch codes", nil))

	select {
	case ev := <-received:
		assert.Equal(t, "launch codes", ev.Data)
	case <-ctx.Done():
		t.Fatal("event not received")
	}
	assert.Equal(t, []string{channel}, c.SubscribedChannels())
}

func TestPresenceSubscription(t *testing.T) {
	srv := newStubService(t)
	cfg := testConfig(srv)
	cfg.Presence = &model.PresenceUser{UserID: "u1", UserInfo: map[string]any{"name": "Ada"}}

	c, err := New(cfg, logger.Nop(), Options{})
	require.NoError(t, err)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectAndWait(context.Background(), ctx))

	done := make(chan string, 1)
	c.BindFunc("", "pusher:subscription_succeeded", func(ev model.Event) { done <- ev.Channel })
	require.NoError(t, c.Subscribe(ctx, "presence-lobby"))

	select {
	case ch := <-done:
		assert.Equal(t, "presence-lobby", ch)
	case <-ctx.Done():
		t.Fatal("presence subscription not acknowledged")
	}

	subs := c.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, model.SubscriptionSucceeded, subs[0].State)
}

func TestBadCredentialsReportSubscriptionError(t *testing.T) {
	srv := newStubService(t)
	c, err := New(testConfig(srv), logger.Nop(), Options{})
	require.NoError(t, err)
	defer c.Disconnect()

	errCh := make(chan error, 4)
	c.OnError(func(err error) { errCh <- err })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.SubscribeWithAuth(ctx, "private-orders", testKey+":forged", ""))
	require.NoError(t, c.ConnectAndWait(context.Background(), ctx))

	select {
	case err := <-errCh:
		assert.True(t, errs.Is(err, errs.KindAuth))
	case <-ctx.Done():
		t.Fatal("no subscription error")
	}
	assert.True(t, c.IsConnected())
}

func TestDisconnectCallbacks(t *testing.T) {
	srv := newStubService(t)
	c, err := New(testConfig(srv), logger.Nop(), Options{})
	require.NoError(t, err)

	var states []socket.State
	var mu sync.Mutex
	c.OnStateChange(func(tr socket.Transition) {
		mu.Lock()
		states = append(states, tr.To)
		mu.Unlock()
	})
	disconnected := make(chan struct{}, 1)
	c.OnDisconnect(func() { disconnected <- struct{}{} })
	connected := make(chan string, 1)
	c.OnConnect(func(id string) { connected <- id })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectAndWait(context.Background(), ctx))

	select {
	case id := <-connected:
		assert.NotEmpty(t, id)
	case <-ctx.Done():
		t.Fatal("connect callback not called")
	}

	c.Disconnect()
	select {
	case <-disconnected:
	case <-ctx.Done():
		t.Fatal("disconnect callback not called")
	}

	assert.Equal(t, socket.StateDisconnected, c.State())
	_, err = c.SocketID()
	assert.ErrorIs(t, err, errs.ErrNotConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []socket.State{socket.StateConnecting, socket.StateConnected, socket.StateDisconnected}, states)

	st := c.Status()
	assert.Equal(t, "disconnected", st.State)
	assert.False(t, st.Connected)
}
