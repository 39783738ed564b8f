// Package backend is the HTTP client for the remote commerce backend.
//
// Every request carries the terminal identity header. Network failures are
// reported as ErrTransport; non-2xx answers as *APIError carrying the
// server's structured error body.
package backend

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

	"github.com/rs/zerolog"

	"boutique/terminal/internal/domain"
)

const (
	DeviceSerialHeader = "X-Device-Serial"
	userAgent          = "boutique-terminal/1"
	maxResponseBytes   = 8 << 20
)

var (
	ErrTransport         = errors.New("backend unreachable")
	ErrMalformedResponse = errors.New("malformed backend response")
)

// APIError is a structured refusal from the backend.
type APIError struct {
	Status         int
	Code           string
	Message        string
	ElapsedMinutes *int
	MaxMinutes     *int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// Unavailable reports whether err means the backend could not process the
// request at all, as opposed to refusing it.
func Unavailable(err error) bool {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrMalformedResponse) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 500
}

func (e *APIError) CancelFailure() domain.CancelFailure {
	return domain.CancelFailure{
		Code:           e.Code,
		Error:          e.Message,
		ElapsedMinutes: e.ElapsedMinutes,
		MaxMinutes:     e.MaxMinutes,
	}
}

type Client struct {
	baseURL      string
	deviceSerial string
	http         *http.Client
	log          zerolog.Logger
}

func New(baseURL string, deviceSerial string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		deviceSerial: deviceSerial,
		http:         &http.Client{Timeout: timeout},
		log:          log.With().Str("component", "backend").Logger(),
	}
}

func (c *Client) DeviceSerial() string {
	return c.deviceSerial
}

func (c *Client) ListArticles(ctx context.Context) ([]domain.Article, error) {
	body, err := c.do(ctx, http.MethodGet, "/articles", nil)
	if err != nil {
		return nil, err
	}

	var wires []articleWire
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &wires)
	} else {
		var envelope struct {
			Articles []articleWire `json:"articles"`
		}
		err = json.Unmarshal(body, &envelope)
		wires = envelope.Articles
	}
	if err != nil {
		return nil, fmt.Errorf("%w: articles: %v", ErrMalformedResponse, err)
	}

	articles := make([]domain.Article, 0, len(wires))
	for _, w := range wires {
		articles = append(articles, w.toDomain())
	}
	return articles, nil
}

func (c *Client) SalesHistory(ctx context.Context, limit int) ([]domain.Sale, error) {
	path := "/sales/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Sales []domain.Sale `json:"sales"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: sales history: %v", ErrMalformedResponse, err)
	}
	for i := range envelope.Sales {
		envelope.Sales[i].Synced = true
	}
	return envelope.Sales, nil
}

// CreateSale posts one sale. The returned sale is the server's view of it,
// or the submitted sale when the server only acknowledges.
func (c *Client) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	body, err := c.do(ctx, http.MethodPost, "/sales", toSaleWire(sale))
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Sale *domain.Sale `json:"sale"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: create sale: %v", ErrMalformedResponse, err)
		}
	}

	created := sale
	if envelope.Sale != nil && envelope.Sale.InvoiceNumber != "" {
		created = *envelope.Sale
		if len(created.Lines) == 0 {
			created.Lines = sale.Lines
		}
	}
	created.Synced = true
	return &created, nil
}

// CancelSale asks the server to cancel a sale. A refusal comes back as
// *APIError; use CancelFailure to render it.
func (c *Client) CancelSale(ctx context.Context, invoiceNumber string, reason string) (*domain.CancelSaleResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/sales/cancel", domain.CancelSaleRequest{
		InvoiceNumber: invoiceNumber,
		Reason:        reason,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
		errorBody
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: cancel sale: %v", ErrMalformedResponse, err)
		}
	}
	if resp.Success != nil && !*resp.Success {
		return nil, resp.errorBody.toAPIError(http.StatusOK)
	}

	return &domain.CancelSaleResponse{
		InvoiceNumber: invoiceNumber,
		Cancelled:     true,
		Message:       resp.Message,
	}, nil
}

// SyncSales submits one batch of pending sales and returns the raw
// server-side partition.
func (c *Client) SyncSales(ctx context.Context, sales []domain.Sale) (domain.SyncOutcome, error) {
	req := syncRequest{Sales: make([]saleWire, 0, len(sales))}
	for _, s := range sales {
		req.Sales = append(req.Sales, toSaleWire(s))
	}

	body, err := c.do(ctx, http.MethodPost, "/sales/sync", req)
	if err != nil {
		return domain.SyncOutcome{}, err
	}

	var resp syncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.SyncOutcome{}, fmt.Errorf("%w: sync: %v", ErrMalformedResponse, err)
	}
	return resp.toDomain(), nil
}

func (c *Client) do(ctx context.Context, method string, path string, payload any) ([]byte, error) {
	endpoint, err := url.JoinPath(c.baseURL, strings.SplitN(path, "?", 2)[0])
	if err != nil {
		return nil, fmt.Errorf("build url %s: %w", path, err)
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		endpoint += path[i:]
	}

	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.deviceSerial != "" {
		req.Header.Set(DeviceSerialHeader, c.deviceSerial)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	startedAt := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("backend request failed")
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", ErrTransport, method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(startedAt)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		apiErr := eb.toAPIError(resp.StatusCode)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(http.StatusText(resp.StatusCode))
		}
		return nil, apiErr
	}
	return body, nil
}
