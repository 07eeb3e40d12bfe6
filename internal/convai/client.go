// Package convai is a thin client for the ElevenLabs Conversational AI
// conversation history endpoints.
package convai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/callsync/pkg/logging"
)

const (
	defaultBaseURL        = "https://api.elevenlabs.io/v1"
	defaultAudioProxyPath = "/api/calls/audio"
	defaultUserAgent      = "callsync/0.1"
)

var (
	// ErrNotFound is returned when the provider has no such conversation.
	ErrNotFound = errors.New("convai: conversation not found")
	// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
	ErrMalformedResponse = errors.New("convai: malformed response")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("convai: api error status=%d body=%s", e.StatusCode, e.Body)
}

// Config controls how the client behaves.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	PageSize       int
	AudioProxyPath string
	HTTPClient     *http.Client
	Logger         *logging.Logger
}

// Client wraps the conversation list, detail and audio endpoints.
type Client struct {
	apiKey         string
	baseURL        string
	pageSize       int
	audioProxyPath string
	httpClient     *http.Client
	logger         *logging.Logger
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("convai: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	proxy := strings.TrimRight(strings.TrimSpace(cfg.AudioProxyPath), "/")
	if proxy == "" {
		proxy = defaultAudioProxyPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		pageSize:       cfg.PageSize,
		audioProxyPath: proxy,
		httpClient:     httpClient,
		logger:         logger,
	}, nil
}

// ListRecent returns the provider's most recent conversations, newest first.
func (c *Client) ListRecent(ctx context.Context) ([]ConversationSummary, error) {
	q := url.Values{}
	if c.pageSize > 0 {
		q.Set("page_size", strconv.Itoa(c.pageSize))
	}
	data, err := c.get(ctx, "/convai/conversations", q)
	if err != nil {
		return nil, err
	}
	var resp listResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrMalformedResponse, err)
	}
	return resp.Conversations, nil
}

// GetDetail fetches one conversation including transcript and analysis.
func (c *Client) GetDetail(ctx context.Context, conversationID string) (*ConversationDetail, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("convai: conversation id required")
	}
	data, err := c.get(ctx, "/convai/conversations/"+url.PathEscape(conversationID), nil)
	if err != nil {
		return nil, err
	}
	var detail ConversationDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("%w: detail: %v", ErrMalformedResponse, err)
	}
	if detail.ConversationID == "" {
		detail.ConversationID = conversationID
	}
	detail.Raw = json.RawMessage(data)
	return &detail, nil
}

// AudioProxyPath is the local path that streams a conversation's recording.
func (c *Client) AudioProxyPath(conversationID string) string {
	return c.audioProxyPath + "/" + url.PathEscape(conversationID)
}

// StreamAudio opens the recording for a conversation. The caller closes the body.
func (c *Client) StreamAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, "", errors.New("convai: conversation id required")
	}
	resp, err := c.do(ctx, "/convai/conversations/"+url.PathEscape(conversationID)+"/audio", nil)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, "", c.errorFor(resp)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return resp.Body, contentType, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.do(ctx, path, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.errorFor(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("convai: read response: %w", err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("convai: build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("User-Agent", defaultUserAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("convai: http error: %w", err)
	}
	return resp, nil
}

func (c *Client) errorFor(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	c.logger.Warn("convai request failed", "status", resp.StatusCode, "path", resp.Request.URL.Path)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, apiErr)
	}
	return apiErr
}
