package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerr "github.com/pkg/errors"

	"github.com/splits-network/splits-sub020/tools/errs"
)

// TokenProvider yields the current bearer token, or "" while auth has not
// settled. A missing token short-circuits the request without error.
type TokenProvider interface {
	GetToken(ctx context.Context) string
}

// Doer is the injected HTTP transport. Timeouts belong to it, not to us.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	BaseURL string
	HTTP    Doer
	Tokens  TokenProvider
}

// Client is the authenticated REST client for the chat surface. Every call
// resolves a token first; every response is the {"data": ...} envelope.
type Client struct {
	base   string
	http   Doer
	tokens TokenProvider
}

func NewClient(cfg Config) *Client {
	h := cfg.HTTP
	if h == nil {
		h = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   h,
		tokens: cfg.Tokens,
	}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any, out any) error {
	token := ""
	if c.tokens != nil {
		token = c.tokens.GetToken(ctx)
	}
	if token == "" {
		return errs.ErrNoToken.WrapMsg("request skipped", "path", path)
	}

	u := c.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return pkgerr.Wrap(err, "encode request body")
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return pkgerr.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerr.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerr.Wrapf(err, "read response %s", path)
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		if ae.Code == "request_pending" {
			return errs.ErrRequestPending.WrapMsg(ae.Message)
		}
		msg := ae.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return pkgerr.Errorf("%s %s: %s (status %d)", method, path, msg, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return pkgerr.Wrapf(err, "decode envelope %s", path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerr.Wrapf(err, "decode payload %s", path)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}
