package stepwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/stepwise-dev/stepwise-go/event"
)

// Client is the Event Client (C9): the thin collaborator that sends events
// to the ingest API. Its Send/SendMany are what step.Send/step.SendMany
// call into when installed on a Handler.
type Client interface {
	Send(ctx context.Context, evt event.Event) (string, error)
	SendMany(ctx context.Context, events []event.Event) ([]string, error)
}

// ClientOpts configures NewClient.
type ClientOpts struct {
	// AppID names the application sending events. SendMany does not
	// include it in the request.
	AppID string
	// EventKey authenticates outbound sends. If unset, falls back to
	// INNGEST_EVENT_KEY, then (Dev mode only) a placeholder value.
	EventKey *string
	// EventAPIOrigin overrides the ingest API base URL.
	EventAPIOrigin *string
	// MaxConcurrentSends bounds concurrent outbound HTTP calls from
	// SendMany. Zero means unbounded.
	MaxConcurrentSends int64
	// HTTPClient overrides the client used for outbound requests.
	HTTPClient *http.Client
}

// GetEventKey resolves the event key with the precedence: explicit field,
// then INNGEST_EVENT_KEY, then (Dev mode only) the well-known placeholder,
// else empty.
func (o ClientOpts) GetEventKey() string {
	if o.EventKey != nil {
		return *o.EventKey
	}
	if key := eventKeyEnv(); key != "" {
		return key
	}
	if IsDev() {
		return devEventKeyPlaceholder
	}
	return ""
}

func (o ClientOpts) eventAPIOrigin() string {
	if o.EventAPIOrigin != nil {
		return *o.EventAPIOrigin
	}
	if IsDev() {
		return DevServerURL()
	}
	if origin := eventAPIOriginEnv(); origin != "" {
		return origin
	}
	return defaultEventAPIOrigin
}

func (o ClientOpts) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

type client struct {
	opts ClientOpts
	sem  *semaphore.Weighted
}

// NewClient builds an Event Client from opts.
func NewClient(opts ClientOpts) Client {
	var sem *semaphore.Weighted
	if opts.MaxConcurrentSends > 0 {
		sem = semaphore.NewWeighted(opts.MaxConcurrentSends)
	}
	return &client{opts: opts, sem: sem}
}

func (c *client) Send(ctx context.Context, evt event.Event) (string, error) {
	ids, err := c.SendMany(ctx, []event.Event{evt})
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

func (c *client) SendMany(ctx context.Context, events []event.Event) ([]string, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}

	payload := make([]map[string]any, len(events))
	ids := make([]string, len(events))
	for i, evt := range events {
		if evt.ID == nil {
			id := ulid.Make().String()
			evt.ID = &id
		}
		ids[i] = *evt.ID
		payload[i] = evt.Map()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding events: %w", err)
	}

	url := fmt.Sprintf("%s/e/%s", c.opts.eventAPIOrigin(), c.opts.GetEventKey())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set(headerKeyContentType, "application/json")

	resp, err := c.opts.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("event ingest returned %d: %s", resp.StatusCode, respBody)
	}

	return ids, nil
}
