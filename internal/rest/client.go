package rest

import (
	"bytes"
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

	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// ErrNetwork wraps every failure to reach the server.
var ErrNetwork = errors.New("network failure")

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// DefaultTimeout bounds each JSON call. Uploads are bounded only by their
// context since a large file may stream for minutes.
const DefaultTimeout = 30 * time.Second

// Client talks to the chat REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a REST client. A nil httpClient uses one without an overall
// timeout; JSON calls get DefaultTimeout through their context instead.
func New(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		timeout: DefaultTimeout,
		logger:  logger.Named("rest"),
	}
}

// SendRequest is the body of POST /chats/{id}/messages.
type SendRequest struct {
	Text        string             `json:"text"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	Type        model.Kind         `json:"type"`
	ReplyTo     string             `json:"replyTo,omitempty"`
	LocalID     string             `json:"localId,omitempty"`
}

type historyResponse struct {
	Messages []model.Message `json:"messages"`
}

// History returns the latest limit messages of a chat, oldest first.
func (c *Client) History(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	path := "/chats/" + url.PathEscape(chatID) + "/messages?" + q.Encode()

	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage posts a message and returns the stored message with its permanent id.
func (c *Client) SendMessage(ctx context.Context, chatID string, req SendRequest) (*model.Message, error) {
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("send message: server returned no id")
	}
	return &msg, nil
}

// React toggles the caller's emoji on a message.
func (c *Client) React(ctx context.Context, chatID, messageID, emoji string) error {
	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.do(ctx, http.MethodPatch, path, map[string]string{"emoji": emoji}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.roundTrip(req, out)
}

func (c *Client) roundTrip(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", req.Method), zap.String("path", req.URL.Path), zap.Error(err))
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("request done",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method: req.Method,
			Path:   req.URL.Path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
