package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"v2v/app/config"
	"v2v/app/model/chat"

	"github.com/google/uuid"
	"github.com/samber/do"
)

// EmptyReplyFallback replaces a reply the backend returned without text.
const EmptyReplyFallback = "Извините, произошла ошибка"

const maxErrorBodySize = 512

// ErrNetwork covers every transport, status and decode failure of the chat service.
var ErrNetwork = errors.New("network error")

type Reply struct {
	Text      string
	SessionID int64
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return New(cfg.Backend.BaseURL, &http.Client{
		Timeout: cfg.Backend.Timeout,
	}), nil
}

func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api",
		httpClient: httpClient,
	}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID *int64 `json:"session_id"`
}

type chatResponse struct {
	Response  *string `json:"response"`
	SessionID *int64  `json:"session_id"`
}

type sessionResponse struct {
	ID        *int64         `json:"id"`
	CreatedAt chat.Timestamp `json:"created_at"`
}

// toSession rejects a session without an id: ids are assigned by the backend only.
func (r sessionResponse) toSession(method, path string) (chat.Session, error) {
	if r.ID == nil {
		return chat.Session{}, fmt.Errorf("%w: %s %s response has no session id", ErrNetwork, method, path)
	}

	return chat.Session{ID: *r.ID, CreatedAt: r.CreatedAt}, nil
}

type historyResponse struct {
	Messages []chat.Message `json:"messages"`
}

func (c *Client) ListSessions(ctx context.Context) ([]chat.Session, error) {
	var result []sessionResponse
	if err := c.do(ctx, http.MethodGet, "/session", nil, &result); err != nil {
		return nil, err
	}

	sessions := make([]chat.Session, 0, len(result))
	for _, item := range result {
		sess, err := item.toSession(http.MethodGet, "/session")
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context) (chat.Session, error) {
	var result sessionResponse
	if err := c.do(ctx, http.MethodPost, "/session", nil, &result); err != nil {
		return chat.Session{}, err
	}

	return result.toSession(http.MethodPost, "/session")
}

func (c *Client) FetchHistory(ctx context.Context, sessionID int64) ([]chat.Message, error) {
	var result historyResponse
	if err := c.do(ctx, http.MethodGet, "/session/"+strconv.FormatInt(sessionID, 10), nil, &result); err != nil {
		return nil, err
	}

	return result.Messages, nil
}

// SendMessage posts an utterance. A nil sessionID asks the backend to open a new session,
// whose id comes back in the reply.
func (c *Client) SendMessage(ctx context.Context, text string, sessionID *int64) (Reply, error) {
	var result chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", chatRequest{Message: text, SessionID: sessionID}, &result); err != nil {
		return Reply{}, err
	}

	if result.SessionID == nil {
		return Reply{}, fmt.Errorf("%w: POST /chat response has no session id", ErrNetwork)
	}

	reply := Reply{SessionID: *result.SessionID}
	if result.Response == nil || strings.TrimSpace(*result.Response) == "" {
		reply.Text = EmptyReplyFallback
	} else {
		reply.Text = *result.Response
	}

	return reply, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger := slog.With("method", method, "path", path, "request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("Backend request failed", "error", err)
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		logger.Warn("Backend returned error status", "status", resp.StatusCode, "body", string(detail))
		return fmt.Errorf("%w: %s %s: status %d", ErrNetwork, method, path, resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s %s response: %w", ErrNetwork, method, path, err)
	}

	logger.Debug("Backend request done", "status", resp.StatusCode)

	return nil
}
