package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boutique/terminal/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", "SN-0042", 2*time.Second, zerolog.Nop())
}

func TestListArticlesSendsIdentityAndAcceptsStringPrices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/articles", r.URL.Path)
		assert.Equal(t, "SN-0042", r.Header.Get(DeviceSerialHeader))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, `{"articles":[
			{"id":119,"code":"ART-FC7CF1F4","name":"Sardine","sale_price":"3000.00","purchase_price":2000,"stock":250},
			{"id":120,"code":"X","name":"Tomato","sale_price":700,"purchase_price":"600","stock":0,"active":false,"category_id":4}
		]}`)
	})

	articles, err := client.ListArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.True(t, articles[0].SalePrice.Equal(decimal.NewFromInt(3000)))
	assert.True(t, articles[0].Active)
	assert.False(t, articles[1].Active)
	require.NotNil(t, articles[1].CategoryRef)
	assert.Equal(t, int64(4), *articles[1].CategoryRef)
}

func TestListArticlesAcceptsBareArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"id":1,"name":"Rice","sale_price":10}]`)
	})

	articles, err := client.ListArticles(context.Background())
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Rice", articles[0].Name)
}

func TestTransportFailureIsErrTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := New(srv.URL, "", time.Second, zerolog.Nop())

	_, err := client.SyncSales(context.Background(), []domain.Sale{{InvoiceNumber: "A"}})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestMalformedSyncResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html>gateway</html>`)
	})

	_, err := client.SyncSales(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSyncSalesParsesOutcome(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sales/sync", r.URL.Path)

		var req struct {
			Sales []struct {
				InvoiceNumber string `json:"invoice_number"`
				Lines         []struct {
					ArticleID int64  `json:"article_id"`
					Quantity  int    `json:"quantity"`
					UnitPrice string `json:"unit_price"`
				} `json:"lines"`
			} `json:"sales"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Sales, 1)
		assert.Equal(t, "FAC-1", req.Sales[0].InvoiceNumber)
		assert.Equal(t, int64(81), req.Sales[0].Lines[0].ArticleID)

		_, _ = io.WriteString(w, `{
			"accepted":["FAC-1"],
			"rejected":[
				{"sale_id":"FAC-2","reason":"INSUFFICIENT_STOCK","article_id":81,"article_name":"Oil","available_stock":4,"requested_stock":10},
				{"sale_id":"FAC-3","reason":"PRIX_MODIFIE","article_id":82,"expected_price":"1200","current_price":1300},
				{"sale_id":"FAC-4","reason":"WEIRD","message":"Boutique closed"}
			],
			"stock_updates":[{"article_id":81,"code":"2543","name":"Oil","current_stock":4,"current_price":"75600"}]
		}`)
	})

	outcome, err := client.SyncSales(context.Background(), []domain.Sale{{
		InvoiceNumber: "FAC-1",
		Lines:         []domain.SaleLine{{ArticleRef: 81, Quantity: 1, UnitPrice: decimal.NewFromInt(75600)}},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"FAC-1"}, outcome.Accepted)
	require.Len(t, outcome.Rejected, 3)

	stock, ok := outcome.Rejected[0].Reason.(domain.InsufficientStock)
	require.True(t, ok)
	assert.Equal(t, 10, stock.Requested)
	assert.Equal(t, 4, stock.Available)

	price, ok := outcome.Rejected[1].Reason.(domain.PriceChanged)
	require.True(t, ok)
	assert.True(t, price.Current.Equal(decimal.NewFromInt(1300)))

	unknown, ok := outcome.Rejected[2].Reason.(domain.Unknown)
	require.True(t, ok)
	assert.Equal(t, "Boutique closed", unknown.Presentation().Explanation)

	require.Len(t, outcome.StockUpdates, 1)
	assert.Equal(t, 4, outcome.StockUpdates[0].NewStock)
}

func TestCancelSaleTimeoutCarriesServerNumbers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sales/cancel", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"success":false,"error":"too late","code":"CANCELLATION_TIMEOUT","elapsed_minutes":75,"max_minutes":60}`)
	})

	_, err := client.CancelSale(context.Background(), "FAC-1", "mistake")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	failure := apiErr.CancelFailure()
	assert.Equal(t, domain.CancelCodeTimeout, failure.Code)
	assert.Contains(t, failure.Message(), "Elapsed: 75 minutes")
	assert.Contains(t, failure.Message(), "Maximum: 60 minutes")
}

func TestCancelSaleFailureInOKBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"code":"ALREADY_CANCELLED","error":"already"}`)
	})

	_, err := client.CancelSale(context.Background(), "FAC-1", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, domain.CancelCodeAlreadyCancelled, apiErr.Code)
}

func TestCancelSaleSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"message":"Sale cancelled"}`)
	})

	resp, err := client.CancelSale(context.Background(), "FAC-1", "")
	require.NoError(t, err)
	assert.True(t, resp.Cancelled)
	assert.Equal(t, "Sale cancelled", resp.Message)
}

func TestCreateSaleReturnsServerSale(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sales", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sale":{"invoice_number":"FAC-9","total_amount":"6000","payment_mode":"CASH","sale_date":"2026-03-01T10:00:00Z"}}`)
	})

	sale, err := client.CreateSale(context.Background(), domain.Sale{
		InvoiceNumber: "FAC-9",
		Lines:         []domain.SaleLine{{ArticleRef: 119, Quantity: 2, UnitPrice: decimal.NewFromInt(3000)}},
	})
	require.NoError(t, err)
	assert.True(t, sale.Synced)
	assert.True(t, sale.TotalAmount.Equal(decimal.NewFromInt(6000)))
	assert.Len(t, sale.Lines, 1)
}

func TestCreateSaleStructuredError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":"Insufficient stock for Oil","code":"INSUFFICIENT_STOCK"}`)
	})

	_, err := client.CreateSale(context.Background(), domain.Sale{InvoiceNumber: "FAC-9"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INSUFFICIENT_STOCK", apiErr.Code)
	assert.Equal(t, "Insufficient stock for Oil", apiErr.Message)
	assert.False(t, errors.Is(err, ErrTransport))
}

func TestSalesHistoryLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sales/history", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"sales":[{"invoice_number":"FAC-1","sale_date":"2026-03-01T10:00:00Z","cancelled":true,"cancelled_at":"2026-03-01T10:20:00Z"}]}`)
	})

	sales, err := client.SalesHistory(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.True(t, sales[0].Cancelled)
	require.NotNil(t, sales[0].CancelledAt)
}

func TestUnavailable(t *testing.T) {
	assert.True(t, Unavailable(fmt.Errorf("%w: dial", ErrTransport)))
	assert.True(t, Unavailable(ErrMalformedResponse))
	assert.True(t, Unavailable(&APIError{Status: http.StatusBadGateway}))
	assert.False(t, Unavailable(&APIError{Status: http.StatusConflict, Code: "INSUFFICIENT_STOCK"}))
	assert.False(t, Unavailable(errors.New("other")))
}
