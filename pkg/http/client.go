package http

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Client represents a http client that has a one to one relationship with a url
type Client struct {
	client *http.Client
	url    string
}

// NewClient creates a Client with the http.Client and url
func NewClient(client *http.Client, url string) *Client {
	return &Client{
		client: client,
		url:    url,
	}
}

// Send a request to the url associated.
// If the response returns anything other than a StatusOK (200), then it
// will return an error.
func (c *Client) Send(ctx context.Context, p []byte) error {
	req, err := http.NewRequest("POST", c.url, bytes.NewReader(p))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/binary")

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("invalid status code: %d", resp.StatusCode)
	}

	return nil
}
