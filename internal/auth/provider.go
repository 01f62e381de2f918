package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/model"
)

// Credentials is what a subscribe frame carries for a non-public channel.
type Credentials struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// Provider obtains subscription credentials for a channel. It is called on
// every subscribe attempt, since the socket id changes across reconnects.
type Provider interface {
	Authorize(ctx context.Context, socketID, channel string) (Credentials, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, socketID, channel string) (Credentials, error)

// Authorize calls f.
func (f ProviderFunc) Authorize(ctx context.Context, socketID, channel string) (Credentials, error) {
	return f(ctx, socketID, channel)
}

// LocalProvider signs with the app secret held by this process. User is
// required only for presence channels.
type LocalProvider struct {
	Signer *Signer
	User   *model.PresenceUser
}

// Authorize signs socketID and channel, adding member data on presence channels.
func (p *LocalProvider) Authorize(_ context.Context, socketID, channel string) (Credentials, error) {
	if model.KindOf(channel) != model.ChannelPresence {
		sig, err := p.Signer.SignChannelAuth(socketID, channel, "")
		if err != nil {
			return Credentials{}, err
		}
		return Credentials{Auth: sig}, nil
	}

	if p.User == nil {
		return Credentials{}, errs.Errorf(errs.KindAuth, "authorize",
			"presence channel %s requires a presence user", channel)
	}
	sig, data, err := p.Signer.SignPresenceAuth(socketID, channel, p.User.UserID, p.User.UserInfo)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Auth: sig, ChannelData: data}, nil
}

// EndpointProvider asks an application server for credentials, posting
// socket_id and channel_name as a form the way browser clients do.
type EndpointProvider struct {
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
	log        *logger.Logger
}

// NewEndpointProvider creates an EndpointProvider for the given URL.
func NewEndpointProvider(endpoint string, headers map[string]string, log *logger.Logger) *EndpointProvider {
	return &EndpointProvider{
		endpoint:   endpoint,
		headers:    headers,
		httpClient: &http.Client{Timeout: constants.DefaultHTTPTimeout},
		log:        log,
	}
}

// WithHTTPClient replaces the HTTP client, for custom transports and tests.
func (p *EndpointProvider) WithHTTPClient(c *http.Client) *EndpointProvider {
	p.httpClient = c
	return p
}

// Authorize posts to the auth endpoint and parses {"auth", "channel_data"}.
func (p *EndpointProvider) Authorize(ctx context.Context, socketID, channel string) (Credentials, error) {
	form := url.Values{
		"socket_id":    {socketID},
		"channel_name": {channel},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, errs.E(errs.KindConfig, "authorize", fmt.Errorf("creating auth request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Credentials{}, errs.E(errs.KindConnection, "authorize", fmt.Errorf("sending auth request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Credentials{}, errs.E(errs.KindConnection, "authorize", fmt.Errorf("reading auth response: %w", err))
	}

	p.log.Debug("Auth endpoint answered",
		"channel", channel, "status", resp.StatusCode, "duration", time.Since(start).Round(time.Millisecond))

	if resp.StatusCode != http.StatusOK {
		return Credentials{}, errs.Errorf(errs.KindAuth, "authorize",
			"auth endpoint returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var creds Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return Credentials{}, errs.E(errs.KindAuth, "authorize", fmt.Errorf("parsing auth response: %w", err))
	}
	if creds.Auth == "" {
		return Credentials{}, errs.Errorf(errs.KindAuth, "authorize", "auth response missing auth")
	}
	return creds, nil
}
