package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/capitalize-ai/unified-inbox/internal/model"
)

const maxResponseBytes = 1 << 20

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// errorDecoder turns a non-2xx response body into an error.
type errorDecoder func(status int, body []byte) error

type call struct {
	method  string
	url     string
	header  http.Header
	body    any
	form    string
	out     any
	decoder errorDecoder
}

func doJSON(ctx context.Context, client *http.Client, c call) error {
	var reader io.Reader
	contentType := ""
	switch {
	case c.body != nil:
		payload, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	case c.form != "":
		reader = strings.NewReader(c.form)
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.decoder(resp.StatusCode, body)
	}
	if c.out == nil {
		return nil
	}
	if err := json.Unmarshal(body, c.out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func plainError(platform model.Channel) errorDecoder {
	return func(status int, body []byte) error {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &APIError{Platform: platform, Status: status, Message: msg}
	}
}
