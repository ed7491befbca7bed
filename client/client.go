// Package client implements the HTTP side of Asoc federation: fetching
// service documents, paging feeds and delivering posts, with content
// negotiation enforced on every exchange.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	asoc "github.com/partim/atomtools"
)

const defaultTimeout = 3 * time.Second

// TransportError reports a failed exchange: a network or timeout error, or
// an HTTP status of 400 or above. Transport errors are the retryable class.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request to %s failed", e.URL)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// Is enables errors.Is matching on TransportError.
func (e TransportError) Is(target error) bool {
	_, ok := target.(TransportError)
	if ok {
		return true
	}
	_, ok = target.(*TransportError)
	return ok
}

// ErrTransport is the sentinel error for failed exchanges.
var ErrTransport = TransportError{}

type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
	lenient   bool
}

// New builds a client with the given per-request timeout. With lenient set,
// responses with a wrong Content-Type are still accepted when their root
// element is a known document element.
func New(timeout time.Duration, lenient bool) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := http.Client{
		Timeout: timeout,
	}

	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		userAgent: "asocd",
		lenient:   lenient,
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

// FetchService fetches and decodes the service document at endpoint.
// Results are cached briefly so every peer exchange within a cycle does not
// re-discover the same collections.
func (c *Client) FetchService(ctx context.Context, endpoint string) (*asoc.Service, error) {
	cacheKey := "service:" + endpoint
	if x, found := c.cache.Get(cacheKey); found {
		return x.(*asoc.Service), nil
	}

	body, contentType, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if err := asoc.CheckServiceMediaType(contentType, body, c.lenient); err != nil {
		return nil, err
	}
	doc, err := asoc.DecodeBytes(body)
	if err != nil {
		return nil, err
	}
	svc, ok := doc.(*asoc.Service)
	if !ok {
		return nil, asoc.ParseError{Kind: asoc.ParseBadStructure, Path: "app:service"}
	}

	c.cache.Set(cacheKey, svc, cache.DefaultExpiration)
	return svc, nil
}

// GetNode fetches an Asoc document as a raw node tree, leaving validation
// and decoding to the caller.
func (c *Client) GetNode(ctx context.Context, rawurl string) (*asoc.Node, error) {
	body, contentType, err := c.get(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	if err := asoc.CheckMediaType(contentType, body, c.lenient); err != nil {
		return nil, err
	}
	return asoc.ParseNodeBytes(body)
}

// GetFeedPage fetches one page of a posts collection. A zero since time
// requests the feed from the beginning.
func (c *Client) GetFeedPage(ctx context.Context, postsURL string, since time.Time, sinceID string, limit int) (*asoc.Node, error) {
	u, err := url.Parse(postsURL)
	if err != nil {
		return nil, TransportError{URL: postsURL, Err: err}
	}
	q := u.Query()
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
		q.Set("since-id", sinceID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()
	return c.GetNode(ctx, u.String())
}

// GetEntry fetches a single post by id from a posts collection. A missing
// entry surfaces as a TransportError with status 404.
func (c *Client) GetEntry(ctx context.Context, postsURL, id string) (*asoc.Post, error) {
	body, contentType, err := c.get(ctx, entryURL(postsURL, id))
	if err != nil {
		return nil, err
	}
	if err := asoc.CheckMediaType(contentType, body, c.lenient); err != nil {
		return nil, err
	}
	doc, err := asoc.DecodeBytes(body)
	if err != nil {
		return nil, err
	}
	post, ok := doc.(*asoc.Post)
	if !ok {
		return nil, asoc.ParseError{Kind: asoc.ParseBadStructure, Path: "asoc:post"}
	}
	return post, nil
}

// PostDocument delivers a document to a collection URL.
func (c *Client) PostDocument(ctx context.Context, rawurl string, doc asoc.Document) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawurl, bytes.NewReader(asoc.EncodeBytes(doc)))
	if err != nil {
		return TransportError{URL: rawurl, Err: err}
	}
	req.Header.Set("Content-Type", asoc.MediaType)

	resp, err := c.client.Do(req)
	if err != nil {
		return TransportError{URL: rawurl, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return TransportError{URL: rawurl, Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawurl string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, "", TransportError{URL: rawurl, Err: err}
	}
	req.Header.Set("Accept", asoc.MediaType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", TransportError{URL: rawurl, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", TransportError{URL: rawurl, Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", TransportError{URL: rawurl, Status: resp.StatusCode}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func entryURL(postsURL, id string) string {
	u, err := url.JoinPath(postsURL, id)
	if err != nil {
		return postsURL + "/" + url.PathEscape(id)
	}
	return u
}
