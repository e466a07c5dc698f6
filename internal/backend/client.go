// Package backend is the REST client for the vendor order endpoints.
package backend

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/models"
	"github.com/Aidin1998/vendorpulse/pkg/tracing"
)

// Client calls the order backend on behalf of one vendor
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client for baseURL authenticating with token
func NewClient(baseURL, token string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.OrNop(log).With(zap.String("component", "backend")),
	}
}

type statusUpdateBody struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type confirmBody struct {
	Items []wireItem `json:"items"`
}

type wireItem struct {
	ProductID string      `json:"productId"`
	ShopName  string      `json:"shopName,omitempty"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
	Quantity  int         `json:"quantity"`
}

// UpdateStatus sends a generic status transition: PUT /api/vendor/orders/{id}
func (c *Client) UpdateStatus(ctx context.Context, orderID, status, reason string) error {
	return c.do(ctx, http.MethodPut, "/api/vendor/orders/"+url.PathEscape(orderID),
		statusUpdateBody{Status: status, Reason: reason}, nil)
}

// ConfirmRehearsal confirms an unpaid order with the edited lines:
// PUT /api/vendor/orders/{id}/confirm
func (c *Client) ConfirmRehearsal(ctx context.Context, orderID string, items []models.OrderItem) error {
	body := confirmBody{Items: make([]wireItem, 0, len(items))}
	for _, it := range items {
		body.Items = append(body.Items, wireItem{
			ProductID: it.ProductID,
			ShopName:  it.ShopName,
			Name:      it.Name,
			Price:     json.Number(it.Price.String()),
			Quantity:  it.Quantity,
		})
	}
	return c.do(ctx, http.MethodPut, "/api/vendor/orders/"+url.PathEscape(orderID)+"/confirm", body, nil)
}

// ConfirmStaged confirms a paid order: PATCH /api/vendor/orders/confirm/{id}
func (c *Client) ConfirmStaged(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodPatch, "/api/vendor/orders/confirm/"+url.PathEscape(orderID), nil, nil)
}

// FetchStatus returns the server-side status: GET /api/vendor/orders/{id}/status
func (c *Client) FetchStatus(ctx context.Context, orderID string) (string, error) {
	var out struct {
		Status string `json:"status"`
		Order  *struct {
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/vendor/orders/"+url.PathEscape(orderID)+"/status", nil, &out); err != nil {
		return "", err
	}
	if out.Status == "" && out.Order != nil {
		return out.Order.Status, nil
	}
	return out.Status, nil
}

const instrumentation = "github.com/Aidin1998/vendorpulse/internal/backend"

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (err error) {
	ctx, span := tracing.Start(ctx, instrumentation, "backend "+method,
		attribute.String("http.method", method),
		attribute.String("http.target", path))
	defer func() { tracing.End(span, err) }()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Internal.Explain("failed to marshal request body").Wrap(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Internal.Explain("failed to create request").Wrap(err)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return errors.Transport.Explain("%s %s", method, path).Wrap(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	c.logger.Debug("backend response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, payload)
	}
	if out != nil && len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return errors.Decision.Explain("unreadable response from %s", path).Wrap(err)
		}
	}
	return nil
}

// statusError maps a non-2xx response. 404, 409 and 410 mean the order was
// already resolved elsewhere.
func statusError(code int, payload []byte) error {
	msg := message(payload)
	if msg == "" {
		msg = http.StatusText(code)
	}
	switch code {
	case http.StatusNotFound, http.StatusConflict, http.StatusGone:
		return errors.Stale.Explain("%s", msg).WithStatus(code)
	default:
		return errors.Decision.Explain("%s", msg).WithStatus(code)
	}
}

func message(payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(payload, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		return body.Error
	}
	return fmt.Sprintf("%.200s", strings.TrimSpace(string(payload)))
}
