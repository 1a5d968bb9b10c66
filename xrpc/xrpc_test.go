package xrpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeParams(t *testing.T) {
	type listParams struct {
		Actor  string   `url:"actor"`
		Cursor string   `url:"cursor,omitempty"`
		Limit  int64    `url:"limit,omitempty"`
		Actors []string `url:"actors,omitempty"`
	}

	testCases := []struct {
		name     string
		input    any
		expected string
	}{
		{
			name:     "Nil input",
			input:    nil,
			expected: "",
		},
		{
			name:     "Empty map",
			input:    map[string]any{},
			expected: "",
		},
		{
			name: "Map with slice",
			input: map[string]any{
				"key1": "value1",
				"key2": []string{"value2", "value3"},
			},
			expected: "key1=value1&key2=value2&key2=value3",
		},
		{
			name:     "Struct omits empty cursor",
			input:    listParams{Actor: "did:plc:abc", Limit: 100},
			expected: "actor=did%3Aplc%3Aabc&limit=100",
		},
		{
			name:     "Struct with repeated values",
			input:    listParams{Actor: "a", Cursor: "c1", Actors: []string{"x", "y"}},
			expected: "actor=a&actors=x&actors=y&cursor=c1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := makeParams(tc.input)
			require.NoError(t, err)
			if result != tc.expected {
				t.Errorf("got '%q', want '%q'", result, tc.expected)
			}
		})
	}
}

func TestThrottledError(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	reset := time.Now().Add(time.Minute).Unix()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("ratelimit-limit", "3000")
		w.Header().Set("ratelimit-remaining", "0")
		w.Header().Set("ratelimit-reset", strconv.FormatInt(reset, 10))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"RateLimitExceeded","message":"Rate Limit Exceeded"}`))
	}))
	defer srv.Close()

	c := &Client{Host: srv.URL, Client: RobustHTTPClient(nil)}
	err := c.Do(ctx, Query, "", "app.bsky.graph.getFollowers", map[string]any{"actor": "x"}, nil, nil)
	require.Error(t, err)

	var xe *Error
	require.True(t, errors.As(err, &xe))
	assert.True(xe.IsThrottled())
	assert.Equal("RateLimitExceeded", xe.Name())
	require.NotNil(t, xe.Ratelimit)
	assert.Equal(3000, xe.Ratelimit.Limit)
	assert.Equal(0, xe.Ratelimit.Remaining)
	assert.Equal(reset, xe.Ratelimit.Reset.Unix())

	// throttled requests are handed back to the caller, not retried
	assert.Equal(1, calls)

	last := c.LastRatelimit("app.bsky.graph.getFollowers")
	require.NotNil(t, last)
	assert.Equal(3000, last.Limit)
	assert.Nil(c.LastRatelimit("app.bsky.graph.getFollows"))
}

func TestDecodeOutput(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/xrpc/app.bsky.actor.getProfile", r.URL.Path)
		assert.Equal("alice.test", r.URL.Query().Get("actor"))
		assert.Equal("Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("ratelimit-limit", "100")
		w.Header().Set("ratelimit-remaining", "99")
		w.Write([]byte(`{"did":"did:plc:alice"}`))
	}))
	defer srv.Close()

	c := &Client{Host: srv.URL, Auth: &AuthInfo{AccessJwt: "token"}}
	var out struct {
		Did string `json:"did"`
	}
	err := c.Do(ctx, Query, "", "app.bsky.actor.getProfile", map[string]any{"actor": "alice.test"}, nil, &out)
	require.NoError(t, err)
	assert.Equal("did:plc:alice", out.Did)

	last := c.LastRatelimit("app.bsky.actor.getProfile")
	require.NotNil(t, last)
	assert.Equal(99, last.Remaining)
}
