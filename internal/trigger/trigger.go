// Package trigger publishes events through the service's HTTP API. Every
// request is signed with the app secret; payloads for private-encrypted
// channels are sealed before signing. Requests are never retried here.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Guliveer/pusher-go/internal/auth"
	"github.com/Guliveer/pusher-go/internal/channelcrypto"
	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/metric"
	"github.com/Guliveer/pusher-go/internal/model"
	"github.com/Guliveer/pusher-go/internal/workerpool"
)

var socketIDPattern = regexp.MustCompile(`^\d+\.\d+$`)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Options configures a Client.
type Options struct {
	AppID string
	// BaseURL is the API origin, e.g. https://api-mt1.pusher.com.
	BaseURL string
	Signer  *auth.Signer
	// Crypto seals payloads for private-encrypted channels. Without it,
	// triggering on such a channel is a config error.
	Crypto *channelcrypto.Crypto

	HTTPClient *http.Client
	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64

	Log     *logger.Logger
	Metrics *metric.Metrics
	// Now returns the signing timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Params are optional trigger parameters.
type Params struct {
	// SocketID excludes this connection from receiving the event.
	SocketID string
}

// Client publishes events. It is safe for concurrent use.
type Client struct {
	appID      string
	baseURL    string
	signer     *auth.Signer
	crypto     *channelcrypto.Crypto
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
	metrics    *metric.Metrics
	now        func() time.Time
}

type eventBody struct {
	Name     string   `json:"name"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Data     string   `json:"data"`
	SocketID string   `json:"socket_id,omitempty"`
}

type batchBody struct {
	Batch []model.BatchEvent `json:"batch"`
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	switch {
	case opts.AppID == "":
		return nil, errs.Errorf(errs.KindConfig, "trigger", "app id is required")
	case opts.BaseURL == "":
		return nil, errs.Errorf(errs.KindConfig, "trigger", "API base URL is required")
	case opts.Signer == nil:
		return nil, errs.Errorf(errs.KindConfig, "trigger", "signer is required")
	}

	c := &Client{
		appID:      opts.AppID,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		signer:     opts.Signer,
		crypto:     opts.Crypto,
		httpClient: opts.HTTPClient,
		log:        opts.Log,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: constants.DefaultHTTPTimeout}
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// Trigger publishes one event on one channel.
func (c *Client) Trigger(ctx context.Context, channel, event, data string, params *Params) error {
	return c.TriggerMulti(ctx, []string{channel}, event, data, params)
}

// TriggerMulti publishes one event on up to 100 channels in one request.
// A private-encrypted channel must be triggered on its own since each
// channel has its own key.
func (c *Client) TriggerMulti(ctx context.Context, channels []string, event, data string, params *Params) error {
	const op = "trigger"

	if len(channels) == 0 {
		return errs.Errorf(errs.KindValidation, op, "at least one channel is required")
	}
	if len(channels) > constants.MaxTriggerChannels {
		return errs.Errorf(errs.KindValidation, op,
			"%d channels exceeds the limit of %d", len(channels), constants.MaxTriggerChannels)
	}
	for _, ch := range channels {
		if err := model.ValidateChannelName(ch); err != nil {
			return err
		}
		if len(channels) > 1 && model.KindOf(ch) == model.ChannelPrivateEncrypted {
			return errs.Errorf(errs.KindValidation, op,
				"encrypted channel %s cannot be triggered with other channels", ch)
		}
	}
	if err := validateEventName(op, event); err != nil {
		return err
	}

	body := eventBody{Name: event}
	if params != nil && params.SocketID != "" {
		if !socketIDPattern.MatchString(params.SocketID) {
			return errs.Errorf(errs.KindValidation, op, "invalid socket id %q", params.SocketID)
		}
		body.SocketID = params.SocketID
	}
	if len(channels) == 1 {
		body.Channel = channels[0]
	} else {
		body.Channels = channels
	}

	sealed, err := c.seal(op, channels[0], data)
	if err != nil {
		return err
	}
	body.Data = sealed

	if err := c.post(ctx, "events", body); err != nil {
		return err
	}
	c.log.Debug("Event triggered", "event", event, "channel", strings.Join(channels, ","))
	return nil
}

// TriggerBatch publishes up to 10 events in one request. The service
// accepts or rejects the batch as a whole.
func (c *Client) TriggerBatch(ctx context.Context, events []model.BatchEvent) error {
	const op = "trigger batch"

	if len(events) == 0 {
		return errs.Errorf(errs.KindValidation, op, "batch is empty")
	}
	if len(events) > constants.MaxBatchSize {
		return errs.Errorf(errs.KindValidation, op,
			"%d events exceeds the batch limit of %d", len(events), constants.MaxBatchSize)
	}

	batch := make([]model.BatchEvent, len(events))
	for i, ev := range events {
		if err := model.ValidateChannelName(ev.Channel); err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
		if err := validateEventName(op, ev.Event); err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
		if ev.SocketID != "" && !socketIDPattern.MatchString(ev.SocketID) {
			return errs.Errorf(errs.KindValidation, op, "batch entry %d: invalid socket id %q", i, ev.SocketID)
		}
		sealed, err := c.seal(op, ev.Channel, ev.Data)
		if err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
		ev.Data = sealed
		batch[i] = ev
	}

	if err := c.post(ctx, "batch_events", batchBody{Batch: batch}); err != nil {
		return err
	}
	c.log.Debug("Batch triggered", "events", len(batch))
	return nil
}

func validateEventName(op, event string) error {
	if event == "" {
		return errs.Errorf(errs.KindValidation, op, "event name is empty")
	}
	if len(event) > constants.MaxEventNameLength {
		return errs.Errorf(errs.KindValidation, op,
			"event name exceeds %d characters", constants.MaxEventNameLength)
	}
	return nil
}

// seal encrypts data for private-encrypted channels and enforces the size
// limit on what is sent.
func (c *Client) seal(op, channel, data string) (string, error) {
	if model.KindOf(channel) == model.ChannelPrivateEncrypted {
		if c.crypto == nil {
			return "", errs.Errorf(errs.KindConfig, op,
				"encryption master key is required for channel %s", channel)
		}
		sealed, err := c.crypto.EncryptString(channel, data)
		if err != nil {
			return "", err
		}
		data = sealed
	}
	if len(data) > constants.MaxEventDataSize {
		return "", errs.Errorf(errs.KindValidation, op,
			"data of %d bytes exceeds the limit of %d", len(data), constants.MaxEventDataSize)
	}
	return data, nil
}

// TriggerBatches publishes any number of events by splitting them into
// batches of at most MaxBatchSize and sending up to BatchWorkers requests at
// once. Every entry is validated before the first request. Ordering holds
// within a batch but not across batches.
func (c *Client) TriggerBatches(ctx context.Context, events []model.BatchEvent) error {
	if len(events) == 0 {
		return errs.Errorf(errs.KindValidation, "trigger batch", "batch is empty")
	}
	for i, ev := range events {
		if err := model.ValidateChannelName(ev.Channel); err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
		if err := validateEventName("trigger batch", ev.Event); err != nil {
			return fmt.Errorf("batch entry %d: %w", i, err)
		}
	}

	chunks := workerpool.Chunk(events, constants.MaxBatchSize)
	return workerpool.Run(ctx, chunks, constants.BatchWorkers, func(ctx context.Context, i int, chunk []model.BatchEvent) error {
		if err := c.TriggerBatch(ctx, chunk); err != nil {
			return fmt.Errorf("batch %d of %d: %w", i+1, len(chunks), err)
		}
		return nil
	})
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) error {
	const op = "trigger"

	body, err := json.Marshal(payload)
	if err != nil {
		return errs.E(errs.KindValidation, op, fmt.Errorf("marshaling body: %w", err))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errs.E(errs.KindConnection, op, fmt.Errorf("waiting for rate limiter: %w", err))
		}
	}

	path := "/apps/" + c.appID + "/" + endpoint
	params, err := c.signer.SignTriggerRequest(http.MethodPost, path, body, c.now())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return errs.E(errs.KindConfig, op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pusher-Library", constants.ClientName+" "+constants.ClientVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveTrigger(endpoint, "error", time.Since(start))
		return errs.E(errs.KindConnection, op, fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()
	c.metrics.ObserveTrigger(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	c.log.Warn("Trigger rejected", "endpoint", endpoint, "status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.E(errs.KindAuth, op, err)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errs.E(errs.KindValidation, op, err)
	case resp.StatusCode >= 500:
		return errs.E(errs.KindService, op, err)
	default:
		return errs.E(errs.KindConnection, op, fmt.Errorf("unexpected response status: %w", err))
	}
}
