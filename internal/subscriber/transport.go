package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Transport opens the raw event stream for an account. A nil Transport
// passed to New marks the environment as having no streaming support.
type Transport interface {
	Connect(ctx context.Context, accountID string) (io.ReadCloser, error)
}

// HTTPTransport dials the server's SSE subscription endpoint. The access
// token rides in the token query parameter; the EventSource-style handshake
// cannot carry an Authorization header.
type HTTPTransport struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (t *HTTPTransport) Connect(ctx context.Context, accountID string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/events/%s?token=%s",
		t.BaseURL, url.PathEscape(accountID), url.QueryEscape(t.Token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body) == nil && body.Error != "" {
			return nil, fmt.Errorf("subscribe: %s (status %d)", body.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("subscribe: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
