// Package docsclient provides an HTTP client for the document API. It also
// serves as the persistence gateway of client-side sessions.
package docsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/auth"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
)

// Client is an HTTP client for the /v1 document API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	devUser    *domain.User
}

// NewClient creates a client that authenticates with a bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		token: token,
	}
}

// NewDevClient creates a client for a server running without a JWT secret.
// Requests carry the dev identity headers.
func NewDevClient(baseURL string, user *domain.User) *Client {
	c := NewClient(baseURL, "")
	c.devUser = user
	return c
}

// ErrorResponse is the error body returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateDocument calls POST /v1/documents.
func (c *Client) CreateDocument(ctx context.Context, content string) (*domain.Document, error) {
	var doc domain.Document
	if err := c.do(ctx, http.MethodPost, "/v1/documents", domain.CreateDocumentRequest{Content: content}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments calls GET /v1/documents.
func (c *Client) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	var resp struct {
		Documents []domain.Document `json:"documents"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/documents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// GetDocument calls GET /v1/documents/:id.
func (c *Client) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	var doc domain.Document
	if err := c.do(ctx, http.MethodGet, documentPath(documentID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument calls DELETE /v1/documents/:id.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	return c.do(ctx, http.MethodDelete, documentPath(documentID), nil, nil)
}

// Share calls POST /v1/documents/:id/shares.
func (c *Client) Share(ctx context.Context, documentID, email string) (*domain.Share, error) {
	var share domain.Share
	err := c.do(ctx, http.MethodPost, documentPath(documentID)+"/shares", domain.ShareDocumentRequest{Email: email}, &share)
	if err != nil {
		return nil, err
	}
	return &share, nil
}

// ListShares calls GET /v1/documents/:id/shares.
func (c *Client) ListShares(ctx context.Context, documentID string) ([]domain.Share, error) {
	var resp struct {
		Shares []domain.Share `json:"shares"`
	}
	if err := c.do(ctx, http.MethodGet, documentPath(documentID)+"/shares", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Shares, nil
}

// RemoveShare calls DELETE /v1/documents/:id/shares/:user_id.
func (c *Client) RemoveShare(ctx context.Context, documentID, userID string) error {
	return c.do(ctx, http.MethodDelete, documentPath(documentID)+"/shares/"+url.PathEscape(userID), nil, nil)
}

// Load returns the durable content of a document. The server identifies the
// caller from the client's credentials; userID is not sent.
func (c *Client) Load(ctx context.Context, documentID, userID string) (*domain.ContentState, error) {
	doc, err := c.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return doc.State(), nil
}

// Save calls PUT /v1/documents/:id and returns the new content state.
func (c *Client) Save(ctx context.Context, documentID, userID, content string) (*domain.ContentState, error) {
	var state domain.ContentState
	if err := c.do(ctx, http.MethodPut, documentPath(documentID), domain.UpdateDocumentRequest{Content: &content}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func documentPath(documentID string) string {
	return "/v1/documents/" + url.PathEscape(documentID)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call document API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.devUser != nil {
		req.Header.Set(auth.HeaderUserID, c.devUser.ID)
		req.Header.Set(auth.HeaderUserEmail, c.devUser.Email)
	}
}

// statusError maps API errors back to domain errors.
func statusError(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(respBody))
	var errResp ErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAccessDenied, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, msg)
	default:
		return fmt.Errorf("document API error (status %d): %s", resp.StatusCode, msg)
	}
}
