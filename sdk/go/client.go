// Package wosdk is a typed client for the work order HTTP API. The wire format uses
// snake_case JSON keys (assignee_id, branch_id, org_seq, work_order); the structs
// here carry those tags, so callers building raw requests must use the same names.
package wosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal work-order HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// DevActorID and DevOrgID are sent as X-Actor-Id / X-Org-Id when no token is set.
	DevActorID string
	DevOrgID   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type HistoryEntry struct {
	UserID string  `json:"user_id"`
	From   *string `json:"from"`
	To     string  `json:"to"`
	Note   string  `json:"note,omitempty"`
	TS     string  `json:"ts"`
}

type Attachment struct {
	ID           string `json:"id"`
	FileName     string `json:"file_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type Cost struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

// WorkOrder is the API work-order model.
type WorkOrder struct {
	ID          string            `json:"id"`
	OrgID       string            `json:"org_id"`
	OrgSeq      int64             `json:"org_seq"`
	State       string            `json:"state"`
	AssigneeID  *string           `json:"assignee_id,omitempty"`
	BranchID    *string           `json:"branch_id,omitempty"`
	Client      json.RawMessage   `json:"client,omitempty"`
	Data        json.RawMessage   `json:"data,omitempty"`
	History     []HistoryEntry    `json:"history"`
	Attachments []Attachment      `json:"attachments"`
	Costs       []Cost            `json:"costs"`
	CostTotal   map[string]string `json:"cost_total"`
	Dates       map[string]string `json:"dates"`
	Deleted     bool              `json:"deleted"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

type WorkOrderPage struct {
	Items []WorkOrder `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

type CreateWorkOrder struct {
	TemplateID     string         `json:"template_id,omitempty"`
	BranchID       string         `json:"branch_id,omitempty"`
	AssigneeID     string         `json:"assignee_id,omitempty"`
	AssigneeRole   string         `json:"assignee_role,omitempty"`
	ScheduledStart string         `json:"scheduled_start,omitempty"`
	Client         map[string]any `json:"client,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

type ListFilter struct {
	Page       int
	Limit      int
	State      string
	AssigneeID string
	BranchID   string
}

type Notification struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
	Meta      struct {
		WorkOrderID string `json:"work_order_id"`
		OrgSeq      int64  `json:"org_seq"`
		Kind        string `json:"kind"`
	} `json:"meta"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == status
}

func (c *Client) CreateWorkOrder(ctx context.Context, in CreateWorkOrder) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, "work-orders", in, &resp)
	return resp, err
}

func (c *Client) GetWorkOrder(ctx context.Context, id string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodGet, "work-orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ListWorkOrders(ctx context.Context, f ListFilter) (WorkOrderPage, error) {
	q := url.Values{}
	if f.Page > 0 {
		q.Set("page", fmt.Sprint(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	for k, v := range map[string]string{"state": f.State, "assignee_id": f.AssigneeID, "branch_id": f.BranchID} {
		if v != "" {
			q.Set(k, v)
		}
	}
	endpoint := "work-orders"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp WorkOrderPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) DeleteWorkOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "work-orders/"+url.PathEscape(id), nil, nil)
}

// Assign assigns or reassigns the order.
func (c *Client) Assign(ctx context.Context, id, assigneeID, note string) (WorkOrder, error) {
	return c.step(ctx, id, "assign", map[string]any{"assignee_id": assigneeID, "note": note})
}

func (c *Client) Start(ctx context.Context, id, note string) (WorkOrder, error) {
	return c.step(ctx, id, "start", map[string]any{"note": note})
}

func (c *Client) SubmitForReview(ctx context.Context, id, note string) (WorkOrder, error) {
	return c.step(ctx, id, "submit-review", map[string]any{"note": note})
}

func (c *Client) Approve(ctx context.Context, id, note string) (WorkOrder, error) {
	return c.step(ctx, id, "approve", map[string]any{"note": note})
}

func (c *Client) Reject(ctx context.Context, id, reason string) (WorkOrder, error) {
	return c.step(ctx, id, "reject", map[string]any{"reason": reason})
}

func (c *Client) AddCost(ctx context.Context, id, description, amount, currency string) (WorkOrder, error) {
	body := map[string]any{"description": description, "amount": amount}
	if currency != "" {
		body["currency"] = currency
	}
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, "work-orders/"+url.PathEscape(id)+"/costs", body, &resp)
	return resp, err
}

// UploadAttachment sends content as the multipart "file" field.
func (c *Client) UploadAttachment(ctx context.Context, id, fileName string, content io.Reader) (Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return Attachment{}, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return Attachment{}, err
	}
	if err := mw.Close(); err != nil {
		return Attachment{}, err
	}
	var resp struct {
		File Attachment `json:"file"`
	}
	err = c.send(ctx, http.MethodPost, "work-orders/"+url.PathEscape(id)+"/attachments", mw.FormDataContentType(), &buf, &resp)
	return resp.File, err
}

func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) (Notification, error) {
	var resp Notification
	err := c.do(ctx, http.MethodPut, "notifications/"+url.PathEscape(id)+"/read", nil, &resp)
	return resp, err
}

func (c *Client) RegisterPushToken(ctx context.Context, token, platform string) error {
	return c.do(ctx, http.MethodPost, "push-tokens", map[string]any{"token": token, "platform": platform}, nil)
}

func (c *Client) step(ctx context.Context, id, action string, body map[string]any) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPut, "work-orders/"+url.PathEscape(id)+"/"+action, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
		contentType = "application/json"
	}
	return c.send(ctx, method, endpoint, contentType, reader, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.DevActorID != "":
		req.Header.Set("X-Actor-Id", c.DevActorID)
		req.Header.Set("X-Org-Id", c.DevOrgID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		_ = json.Unmarshal(b, apiErr)
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	prefix := strings.Trim(c.BasePath, "/")
	if prefix != "" {
		base += "/" + prefix
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
