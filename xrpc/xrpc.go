package xrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/go-querystring/query"
)

type Client struct {
	// Client is an HTTP client to use. If not set, defaults to RobustHTTPClient(nil).
	Client    *http.Client
	Auth      *AuthInfo
	Host      string
	UserAgent *string
	Headers   map[string]string

	limitLk sync.Mutex
	limits  map[string]*RatelimitInfo
}

func (c *Client) getClient() *http.Client {
	if c.Client == nil {
		return RobustHTTPClient(nil)
	}
	return c.Client
}

type XRPCRequestType int

type AuthInfo struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
}

type XRPCError struct {
	ErrStr  string `json:"error"`
	Message string `json:"message"`
}

func (xe *XRPCError) Error() string {
	return fmt.Sprintf("%s: %s", xe.ErrStr, xe.Message)
}

type Error struct {
	StatusCode int
	Wrapped    error
	Ratelimit  *RatelimitInfo
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("XRPC ERROR %d", e.StatusCode)
	}
	if e.StatusCode == http.StatusTooManyRequests && e.Ratelimit != nil {
		return fmt.Sprintf("XRPC ERROR %d: %s (throttled until %s)", e.StatusCode, e.Wrapped, e.Ratelimit.Reset.Local())
	}
	return fmt.Sprintf("XRPC ERROR %d: %s", e.StatusCode, e.Wrapped)
}

func (e *Error) Unwrap() error {
	if e.Wrapped == nil {
		return nil
	}
	return e.Wrapped
}

func (e *Error) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Name of the XRPC error, eg "RecordNotFound", if the server sent one.
func (e *Error) Name() string {
	if xe, ok := e.Wrapped.(*XRPCError); ok {
		return xe.ErrStr
	}
	return ""
}

func errorFromHTTPResponse(resp *http.Response, err error) error {
	return &Error{
		StatusCode: resp.StatusCode,
		Wrapped:    err,
		Ratelimit:  parseRatelimit(resp.Header),
	}
}

// parseRatelimit reads the IETF draft "ratelimit-*" headers. Returns nil if
// the server didn't send any.
func parseRatelimit(h http.Header) *RatelimitInfo {
	if h.Get("ratelimit-limit") == "" {
		return nil
	}
	rl := &RatelimitInfo{
		Policy: h.Get("ratelimit-policy"),
	}
	if n, err := strconv.ParseInt(h.Get("ratelimit-reset"), 10, 64); err == nil {
		rl.Reset = time.Unix(n, 0)
	}
	if n, err := strconv.ParseInt(h.Get("ratelimit-limit"), 10, 64); err == nil {
		rl.Limit = int(n)
	}
	if n, err := strconv.ParseInt(h.Get("ratelimit-remaining"), 10, 64); err == nil {
		rl.Remaining = int(n)
	}
	return rl
}

type RatelimitInfo struct {
	Limit     int
	Remaining int
	Policy    string
	Reset     time.Time
}

const (
	Query = XRPCRequestType(iota)
	Procedure
)

// makeParams URL-encodes request parameters. A map of string keys is
// encoded value by value (slices of strings become repeated keys); anything
// else is treated as a struct with `url` tags.
func makeParams(p any) (string, error) {
	switch v := p.(type) {
	case nil:
		return "", nil
	case map[string]any:
		params := url.Values{}
		for k, v := range v {
			if s, ok := v.([]string); ok {
				for _, v := range s {
					params.Add(k, v)
				}
			} else {
				params.Add(k, fmt.Sprint(v))
			}
		}
		return params.Encode(), nil
	default:
		vals, err := query.Values(p)
		if err != nil {
			return "", fmt.Errorf("encoding xrpc params: %w", err)
		}
		return vals.Encode(), nil
	}
}

// LastRatelimit returns the most recent rate-limit headers observed for the
// given method (on any response, not only failures), or nil.
func (c *Client) LastRatelimit(method string) *RatelimitInfo {
	c.limitLk.Lock()
	defer c.limitLk.Unlock()
	rl, ok := c.limits[method]
	if !ok {
		return nil
	}
	cp := *rl
	return &cp
}

func (c *Client) recordRatelimit(method string, h http.Header) {
	rl := parseRatelimit(h)
	if rl == nil {
		return
	}
	c.limitLk.Lock()
	defer c.limitLk.Unlock()
	if c.limits == nil {
		c.limits = make(map[string]*RatelimitInfo)
	}
	c.limits[method] = rl
}

func (k XRPCRequestType) httpMethod() (string, error) {
	switch k {
	case Query:
		return http.MethodGet, nil
	case Procedure:
		return http.MethodPost, nil
	}
	return "", fmt.Errorf("unsupported request kind: %d", k)
}

// newRequest builds the HTTP request for an XRPC call. bodyobj is sent as is
// when it is an io.Reader, and JSON-encoded otherwise.
func (c *Client) newRequest(ctx context.Context, kind XRPCRequestType, inpenc string, method string, params any, bodyobj any) (*http.Request, error) {
	httpMethod, err := kind.httpMethod()
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if rr, ok := bodyobj.(io.Reader); ok {
		body = rr
	} else if bodyobj != nil {
		b, err := json.Marshal(bodyobj)
		if err != nil {
			return nil, fmt.Errorf("encoding %s input: %w", method, err)
		}
		body = bytes.NewReader(b)
	}

	uri := c.Host + "/xrpc/" + method
	paramStr, err := makeParams(params)
	if err != nil {
		return nil, err
	}
	if paramStr != "" {
		uri += "?" + paramStr
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, uri, body)
	if err != nil {
		return nil, err
	}
	if bodyobj != nil && inpenc != "" {
		req.Header.Set("Content-Type", inpenc)
	}
	ua := "chainblock/" + versioninfo.Short()
	if c.UserAgent != nil {
		ua = *c.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	if c.Auth != nil && c.Auth.AccessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.Auth.AccessJwt)
	}
	return req, nil
}

// Do performs one XRPC call, decoding the response into out (a JSON target,
// or a *bytes.Buffer for the raw body). Non-200 responses come back as
// *Error, carrying the server's rate-limit headers.
func (c *Client) Do(ctx context.Context, kind XRPCRequestType, inpenc string, method string, params any, bodyobj any, out any) error {
	req, err := c.newRequest(ctx, kind, inpenc, method, params, bodyobj)
	if err != nil {
		return err
	}

	resp, err := c.getClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.recordRatelimit(method, resp.Header)

	if resp.StatusCode != http.StatusOK {
		var xe XRPCError
		if err := json.NewDecoder(resp.Body).Decode(&xe); err != nil {
			return errorFromHTTPResponse(resp, fmt.Errorf("failed to decode xrpc error message: %w", err))
		}
		return errorFromHTTPResponse(resp, &xe)
	}

	switch o := out.(type) {
	case nil:
	case *bytes.Buffer:
		if _, err := io.Copy(o, resp.Body); err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", method, err)
		}
	}
	return nil
}
