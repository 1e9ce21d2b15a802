// Package api is the HTTP side of the room server: roster reads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var httpTimeout = 5 * time.Second

// ErrUnauthorized is returned when the server refuses the token.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the HTTP endpoints that sit next to the socket.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient derives the HTTP base from a ws(s) socket endpoint.
func NewClient(socketEndpoint, token string) (*Client, error) {
	base, err := HTTPBase(socketEndpoint)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		token:   token,
		http:    &http.Client{Timeout: httpTimeout},
	}, nil
}

// BaseURL is the http(s) origin requests go to.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchMembers returns the raw roster body for a room.
func (c *Client) FetchMembers(ctx context.Context, roomID string) (json.RawMessage, error) {
	endpoint := c.baseURL + "/room/" + url.PathEscape(roomID) + "/members"
	var body json.RawMessage
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, fmt.Errorf("fetch members: %w", err)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out *json.RawMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return errors.New("response is not valid JSON")
	}
	*out = data
	return nil
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// HTTPBase converts ws://host:port/socket into http://host:port.
func HTTPBase(socketEndpoint string) (string, error) {
	parsed, err := url.Parse(socketEndpoint)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
