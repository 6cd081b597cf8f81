package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/podc/assistant-widget/internal/model/widget"
)

// ErrNoResponse marks a successful call whose body carried no usable reply.
var ErrNoResponse = errors.New("no response received from server")

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.Code)
}

// Client talks to the remote chat and flag endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client rooted at baseURL. A nil httpClient uses a client
// without a timeout; callers bound requests through their context.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the root both endpoints hang off.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type chatRequest struct {
	Message string `json:"message"`
}

// wireCitation keeps file_id and metadata raw so a malformed value only loses
// that field.
type wireCitation struct {
	Filename string          `json:"filename"`
	FileID   json.RawMessage `json:"file_id"`
	Metadata json.RawMessage `json:"metadata"`
}

type wireMetadata struct {
	URL      string `json:"url"`
	Category string `json:"category"`
}

// Chat sends one user message and validates the reply. A 2xx body without a
// non-empty string "response" yields ErrNoResponse.
func (c *Client) Chat(ctx context.Context, message string) (widget.ChatReply, error) {
	resp, err := c.post(ctx, "/chat", chatRequest{Message: message})
	if err != nil {
		return widget.ChatReply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return widget.ChatReply{}, &StatusError{Code: resp.StatusCode}
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return widget.ChatReply{}, fmt.Errorf("decode chat response: %w", err)
	}

	// Valid JSON that is not an object is a success without a reply.
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return widget.ChatReply{}, ErrNoResponse
	}
	return parseChatBody(body)
}

func parseChatBody(body map[string]json.RawMessage) (widget.ChatReply, error) {
	var text string
	raw, ok := body["response"]
	if !ok || json.Unmarshal(raw, &text) != nil || text == "" {
		return widget.ChatReply{}, ErrNoResponse
	}

	reply := widget.ChatReply{Response: text, Citations: []widget.Citation{}}

	var entries []json.RawMessage
	if raw, ok := body["citations"]; !ok || json.Unmarshal(raw, &entries) != nil {
		return reply, nil
	}

	for _, entry := range entries {
		var wc wireCitation
		if err := json.Unmarshal(entry, &wc); err != nil || wc.Filename == "" {
			continue
		}
		var fileID string
		var meta wireMetadata
		_ = json.Unmarshal(wc.FileID, &fileID)
		_ = json.Unmarshal(wc.Metadata, &meta)
		reply.Citations = append(reply.Citations, widget.Citation{
			Filename: wc.Filename,
			URL:      meta.URL,
			FileID:   fileID,
			Category: meta.Category,
		})
	}
	return reply, nil
}

// Flag submits a report. Any HTTP answer counts as submitted; only a failed
// round trip is an error.
func (c *Client) Flag(ctx context.Context, report widget.FlagReport) error {
	resp, err := c.post(ctx, "/flag", report)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("[backend] flag endpoint answered status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}
