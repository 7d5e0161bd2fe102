package alert

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

const sendAttempts = 3

// retryBackoff is the base pause between delivery attempts. Tests shorten it.
var retryBackoff = time.Second

var httpClient = &http.Client{Timeout: 5 * time.Second}

// Send posts one alert event to a webhook endpoint. Network errors and 5xx
// responses are retried with a linear backoff; a 4xx is permanent.
func Send(cfg Config, event Event) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		retriable, err := deliver(cfg, body)
		if err == nil {
			return nil
		}
		if !retriable {
			return err
		}
		lastErr = err
		if attempt < sendAttempts {
			time.Sleep(time.Duration(attempt) * retryBackoff)
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", sendAttempts, lastErr)
}

// deliver makes a single POST and reports whether a failure is retriable.
func deliver(cfg Config, body []byte) (retriable bool, err error) {
	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	}
}
