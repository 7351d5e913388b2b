package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPNotifier posts messages to a mail relay as JSON.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

// NewHTTPNotifier creates an HTTPNotifier for the relay at url. A nil client
// gets a 10 second timeout.
func NewHTTPNotifier(url string, client *http.Client) *HTTPNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPNotifier{url: strings.TrimRight(url, "/"), client: client}
}

// Send delivers msg to the relay's /messages endpoint.
func (n *HTTPNotifier) Send(ctx context.Context, msg Message) error {
	requestBody, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url+"/messages", bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach mail relay: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail relay rejected %s for %s: status code %d", msg.Kind, msg.Email, resp.StatusCode)
	}
	return nil
}
