package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSEEvent is one Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  json.RawMessage
}

// BusEvent is the payload of a /event stream message.
type BusEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// SSEClient follows an SSE stream.
type SSEClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu       sync.Mutex
	events   []SSEEvent
	eventsCh chan SSEEvent
	errCh    chan error
	cancel   context.CancelFunc
	body     io.ReadCloser
}

// NewSSEClient creates an SSE client for baseURL.
func NewSSEClient(baseURL string) *SSEClient {
	return &SSEClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		eventsCh:   make(chan SSEEvent, 100),
		errCh:      make(chan error, 1),
	}
}

// Connect opens path and reads events in the background.
func (c *SSEClient) Connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", ct)
	}

	c.body = resp.Body
	go c.readEvents(resp.Body)
	return nil
}

func (c *SSEClient) readEvents(body io.Reader) {
	defer func() {
		close(c.eventsCh)
		close(c.errCh)
	}()

	for evt, err := range ReadSSE(body) {
		if err != nil {
			if err != context.Canceled {
				c.errCh <- err
			}
			return
		}
		c.mu.Lock()
		c.events = append(c.events, evt)
		c.mu.Unlock()

		select {
		case c.eventsCh <- evt:
		default:
		}
	}
}

// ReadSSE yields the events of an SSE body until it ends. Heartbeat
// comments are skipped.
func ReadSSE(body io.Reader) func(yield func(SSEEvent, error) bool) {
	return func(yield func(SSEEvent, error) bool) {
		reader := bufio.NewReader(body)
		var (
			eventType string
			eventData strings.Builder
		)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					yield(SSEEvent{}, err)
				}
				return
			}
			line = strings.TrimRight(line, "\r\n")

			switch {
			case line == "":
				if eventData.Len() > 0 {
					if !yield(SSEEvent{Event: eventType, Data: json.RawMessage(eventData.String())}, nil) {
						return
					}
				}
				eventType = ""
				eventData.Reset()
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				eventData.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
		}
	}
}

// WaitForBusEvent waits for a /event message of the given type.
func (c *SSEClient) WaitForBusEvent(eventType string, timeout time.Duration) (*BusEvent, error) {
	deadline := time.After(timeout)
	for {
		select {
		case evt, ok := <-c.eventsCh:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			var be BusEvent
			if err := json.Unmarshal(evt.Data, &be); err != nil {
				continue
			}
			if be.Type == eventType {
				return &be, nil
			}
		case err := <-c.errCh:
			return nil, err
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event: %s", eventType)
		}
	}
}

// GetAllEvents returns all received events.
func (c *SSEClient) GetAllEvents() []SSEEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SSEEvent(nil), c.events...)
}

// Close closes the connection.
func (c *SSEClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.body != nil {
		c.body.Close()
	}
}
