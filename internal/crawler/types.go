package crawler

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"time"
)

// Kind labels a WorkItem variant for logs and metrics.
type Kind string

// Work item kinds carried by the queue.
const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindItem     Kind = "item"
	KindShutdown Kind = "shutdown"
)

// ErrShutdown is returned by dispatch when a worker dequeues the stop marker.
var ErrShutdown = errors.New("shutdown sentinel received")

// WorkItem is the closed set of values that flow through the work queue:
// FetchRequest, FetchedResponse, ExtractedItem and Shutdown. The unexported
// marker method keeps other packages from adding variants.
type WorkItem interface {
	Kind() Kind
	workItem()
}

// Meta is free-form request metadata. Keys are unique; order is irrelevant.
type Meta map[string]any

// Clone returns a shallow copy so enqueued requests never share a map.
func (m Meta) Clone() Meta {
	if m == nil {
		return Meta{}
	}
	return maps.Clone(m)
}

// String returns the value stored under key when it is a string.
func (m Meta) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FetchRequest asks the fetcher for one URL. Stage names the parse function
// that will receive the response; it is resolved through the active Bundle.
type FetchRequest struct {
	URL   string
	Stage Stage
	Meta  Meta
}

// NewFetchRequest builds a request with its own copy of meta.
func NewFetchRequest(rawURL string, stage Stage, meta Meta) FetchRequest {
	return FetchRequest{URL: rawURL, Stage: stage, Meta: meta.Clone()}
}

// Kind implements WorkItem.
func (FetchRequest) Kind() Kind { return KindRequest }

func (FetchRequest) workItem() {}

// RawResponse is the transport-level view of a successful fetch.
type RawResponse struct {
	StatusCode int
	Headers    http.Header
	Duration   time.Duration
}

// FetchedResponse is produced by the fetcher. Raw and Body are nil when the
// fetch failed; URL then equals the request URL.
type FetchedResponse struct {
	URL     string
	Raw     *RawResponse
	Body    *string
	Request FetchRequest
}

// Kind implements WorkItem.
func (FetchedResponse) Kind() Kind { return KindResponse }

func (FetchedResponse) workItem() {}

// Failed reports whether this is a degenerate response from a failed fetch.
func (r FetchedResponse) Failed() bool {
	return r.Raw == nil || r.Body == nil
}

// Meta returns the originating request's metadata.
func (r FetchedResponse) Meta() Meta {
	return r.Request.Meta
}

// Text returns the body or an empty string for degenerate responses.
func (r FetchedResponse) Text() string {
	if r.Body == nil {
		return ""
	}
	return *r.Body
}

// Join resolves ref against the response's resolved URL.
func (r FetchedResponse) Join(ref string) (string, error) {
	base, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	return base.ResolveReference(rel).String(), nil
}

// ExtractedItem is a finished (or partial, when Extra is nil) record.
type ExtractedItem struct {
	URL   string
	Extra map[string]any
}

// Kind implements WorkItem.
func (ExtractedItem) Kind() Kind { return KindItem }

func (ExtractedItem) workItem() {}

// Record is the serialized form of an ExtractedItem.
type Record struct {
	URL   string         `json:"url"`
	Extra map[string]any `json:"extra"`
}

// Serialize converts the item into its output record.
func (i ExtractedItem) Serialize() Record {
	return Record{URL: i.URL, Extra: i.Extra}
}

// Shutdown tells the worker that dequeues it to exit.
type Shutdown struct{}

// Kind implements WorkItem.
func (Shutdown) Kind() Kind { return KindShutdown }

func (Shutdown) workItem() {}
