package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/buslink/internal/observability"
	"github.com/danmuck/buslink/internal/protocol/envelope"
	"github.com/danmuck/buslink/internal/protocol/session"
)

const maxErrorBody = 64 << 10

// Client talks JSON to one relay. Paths resolve against the base URL the
// way a browser resolves an absolute path against a page URL.
type Client struct {
	base *url.URL
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: session.DefaultConfig().RequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig validates baseURL against cfg's security mode and builds a
// client with cfg's timeout and TLS settings.
func NewFromConfig(baseURL string, cfg session.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateRelayURL(baseURL); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: cfg.RequestTimeout}
	if tlsCfg != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		hc.Transport = transport
	}
	return New(baseURL, WithHTTPClient(hc))
}

func (c *Client) BaseURL() string { return c.base.String() }

// Resolve returns the absolute URL for path and query.
func (c *Client) Resolve(path string, query url.Values) string {
	ref := &url.URL{Path: path}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) Claim(ctx context.Context, req ClaimRequest) error {
	return c.do(ctx, OpClaim, http.MethodPost, PathClaim, nil, req, nil)
}

func (c *Client) Poll(ctx context.Context, toDeviceID string, limit int) ([]envelope.Envelope, error) {
	q := url.Values{}
	q.Set("to_device_id", toDeviceID)
	q.Set("limit", strconv.Itoa(limit))
	var out PollResponse
	if err := c.do(ctx, OpPoll, http.MethodGet, PathPoll, q, nil, &out); err != nil {
		return nil, err
	}
	return decodeEnvelopes(out.Envelopes), nil
}

func decodeEnvelopes(entries []json.RawMessage) []envelope.Envelope {
	envs := make([]envelope.Envelope, 0, len(entries))
	for i, raw := range entries {
		env, repaired, err := envelope.Unmarshal(raw)
		if err != nil {
			observability.RecordUndecodableEnvelope()
			log.Debug().Int("index", i).Err(err).Msg("relay.Client.Poll dropped entry")
			continue
		}
		if repaired {
			log.Debug().Int("index", i).Str("msg_id", env.MsgID).Msg("relay.Client.Poll repaired entry")
		}
		envs = append(envs, env)
	}
	return envs
}

func (c *Client) Send(ctx context.Context, env envelope.Envelope) error {
	return c.do(ctx, OpSend, http.MethodPost, PathEnvelopes, nil, env, nil)
}

func (c *Client) PushConfig(ctx context.Context) (PushConfig, error) {
	var out PushConfig
	err := c.do(ctx, OpPushConfig, http.MethodGet, PathPushConfig, nil, nil, &out)
	return out, err
}

func (c *Client) PushSubscribe(ctx context.Context, req PushSubscribeRequest) error {
	return c.do(ctx, OpPushSubscribe, http.MethodPost, PathPushSubscribe, nil, req, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	start := time.Now()
	status, err := c.roundTrip(ctx, op, method, path, query, in, out)
	observability.RecordRelayRequest(op, status, time.Since(start), err == nil)
	if err != nil {
		log.Debug().
			Str("op", op).
			Int("status", status).
			Err(err).
			Msgf("relay.Client.%s failed", strings.ReplaceAll(op, " ", "_"))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Resolve(path, query), body)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return resp.StatusCode, &HTTPError{
			Op:     op,
			Status: resp.StatusCode,
			Detail: readDetail(resp.Body),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return resp.StatusCode, nil
}

// readDetail extracts the relay's {"detail": ...} message, if any.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Detail)
}
