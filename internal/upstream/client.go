// Package upstream holds the shared HTTP client used to talk to the
// mirrored hub, and CommitResolver: the online/offline commit-resolution
// step described in spec §4.5, grounded on
// olah/utils/repo_utils.py's get_newest_commit_hf / get_commit_hf /
// check_commit_hf.
package upstream

import (
	"context"
	"net/http"
	"time"
)

// Default timeouts, matching olah.constants.WORKER_API_TIMEOUT's role:
// metadata calls get a short hard timeout; body streams get a longer one
// (spec §5, "Timeouts").
const (
	DefaultAPITimeout    = 15 * time.Second
	DefaultStreamTimeout = 5 * time.Minute
)

// Client wraps an *http.Client with the base URLs this mirror forwards
// to. Construction is grounded on the teacher's proxy.ReverseProxy client
// pooling (proxy/proxy.go), simplified to a single shared client since
// CommitResolver/the pipeline issue short-lived metadata and range
// requests rather than the teacher's long-lived pooled connections per
// backend address.
type Client struct {
	HTTP *http.Client

	Scheme    string
	Netloc    string
	LFSNetloc string
}

// NewClient builds a Client with the given base netlocs and a default
// transport tuned for many small concurrent upstream calls.
func NewClient(scheme, netloc, lfsNetloc string) *Client {
	return &Client{
		// No client-wide Timeout: callers bound each request with a
		// context deadline sized for what it's doing (short for metadata,
		// long for range streams), and a blanket Timeout here would cut a
		// long-lived stream GET off at the metadata timeout.
		HTTP: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Scheme:    scheme,
		Netloc:    netloc,
		LFSNetloc: lfsNetloc,
	}
}

// URLBase returns "{scheme}://{netloc}".
func (c *Client) URLBase() string {
	return c.Scheme + "://" + c.Netloc
}

// LFSURLBase returns "{scheme}://{lfsNetloc}".
func (c *Client) LFSURLBase() string {
	return c.Scheme + "://" + c.LFSNetloc
}

// do issues req bound to ctx, with req's headers exactly as the caller
// built them; callers set only the headers each request needs.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.HTTP.Do(req.WithContext(ctx))
}
