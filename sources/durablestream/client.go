package durablestream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const contentTypeJSON = "application/json"

// client handles HTTP communication with a durable-streams server.
type client struct {
	streamURL  string
	httpClient *http.Client
	cfg        *config
}

func newClient(streamURL string, cfg *config) *client {
	return &client{
		streamURL:  streamURL,
		httpClient: cfg.httpClient,
		cfg:        cfg,
	}
}

// chunk is one read response.
type chunk struct {
	NextOffset string
	Body       []byte
	UpToDate   bool
}

// create creates the JSON stream. Creating an existing stream succeeds.
func (c *client) create(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.streamURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create stream: status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// append adds data to the stream and returns the next offset.
func (c *client) append(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("append: status %d: %s", resp.StatusCode, string(body))
	}

	return resp.Header.Get("Stream-Next-Offset"), nil
}

// read fetches one chunk of the stream starting at offset.
func (c *client) read(ctx context.Context, offset string) (*chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	u, err := url.Parse(c.streamURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("offset", offset)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrStreamNotFound
	}
	if resp.StatusCode == http.StatusNoContent {
		return &chunk{NextOffset: resp.Header.Get("Stream-Next-Offset"), UpToDate: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("read: status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &chunk{
		NextOffset: resp.Header.Get("Stream-Next-Offset"),
		Body:       body,
		UpToDate:   resp.Header.Get("Stream-Up-To-Date") == "true",
	}, nil
}

// doWithRetry executes the request, retrying network errors and 5xx
// responses with linear backoff.
func (c *client) doWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(c.cfg.retryBackoff * time.Duration(attempt)):
			}
			// NewRequestWithContext sets GetBody for byte readers.
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind body: %w", err)
				}
				req.Body = body
			}
			if c.cfg.logger != nil {
				c.cfg.logger.Debug("retrying request", "method", req.Method, "attempt", attempt, "err", lastErr)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 && attempt < c.cfg.retryAttempts {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("after %d retries: %w", c.cfg.retryAttempts, lastErr)
}
