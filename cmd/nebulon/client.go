package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ssd-technologies/nebulon/internal/agent"
)

// client calls the nebulond API. Requests are signed when a key is set.
type client struct {
	base        string
	key         ed25519.PrivateKey
	adminSecret string
	http        *http.Client
}

func newClient(base string, key ed25519.PrivateKey, adminSecret string) *client {
	return &client{
		base:        strings.TrimRight(base, "/"),
		key:         key,
		adminSecret: adminSecret,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (c *client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, false, out)
}

// signed sends a request signed with the client key.
func (c *client) signed(ctx context.Context, method, path string, body, out any) error {
	if c.key == nil {
		return fmt.Errorf("this command needs a key (see --key)")
	}
	return c.do(ctx, method, path, body, true, out)
}

func (c *client) do(ctx context.Context, method, path string, body any, sign bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sign {
		agent.SignRequest(req, c.key, payload)
	}
	if c.adminSecret != "" && strings.HasPrefix(path, "/api/operator/") {
		req.Header.Set("X-Admin-Secret", c.adminSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
