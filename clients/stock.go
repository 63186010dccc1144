// Package clients provides thin HTTP clients for the collaborators the
// handlers consume: the stock service and the notification service. Both are
// internal system-to-system calls authenticated with the shared secret.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/ledgerlane/fanout/handlers"
)

const internalSecretHeader = "X-Internal-Secret"

const defaultTimeout = time.Second * 10

// NewStockClient returns a stock collaborator client.
func NewStockClient(baseURL, internalSecret string) *StockClient {
	return &StockClient{
		baseURL:        baseURL,
		internalSecret: internalSecret,
		httpClient:     &http.Client{Timeout: defaultTimeout},
	}
}

// StockClient calls the inventory module's stock operations.
type StockClient struct {
	baseURL        string
	internalSecret string
	httpClient     *http.Client
}

var _ handlers.Stock = (*StockClient)(nil)

type adjustRequest struct {
	TenantID     string `json:"tenant_id"`
	ProductID    string `json:"product_id"`
	WarehouseID  string `json:"warehouse_id"`
	Quantity     int64  `json:"quantity"`
	MovementType string `json:"movement_type"`
	Reference    string `json:"reference"`
}

type orderRequest struct {
	TenantID     string `json:"tenant_id"`
	SalesOrderID string `json:"sales_order_id"`
}

type stockResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (c *StockClient) AdjustStock(ctx context.Context, adj handlers.StockAdjustment) error {
	return c.post(ctx, "/v1/stock/adjust", adjustRequest{
		TenantID:     adj.TenantID,
		ProductID:    adj.ProductID,
		WarehouseID:  adj.WarehouseID,
		Quantity:     adj.Quantity,
		MovementType: adj.MovementType,
		Reference:    adj.Reference,
	})
}

func (c *StockClient) ReserveStock(ctx context.Context, tenantID, salesOrderID string) error {
	return c.post(ctx, "/v1/stock/reserve", orderRequest{
		TenantID:     tenantID,
		SalesOrderID: salesOrderID,
	})
}

func (c *StockClient) ReleaseStock(ctx context.Context, tenantID, salesOrderID string) error {
	return c.post(ctx, "/v1/stock/release", orderRequest{
		TenantID:     tenantID,
		SalesOrderID: salesOrderID,
	})
}

type warehouseResponse struct {
	WarehouseID string `json:"warehouse_id"`
}

// FirstActiveWarehouse returns empty without error when the tenant has no
// active warehouse.
func (c *StockClient) FirstActiveWarehouse(ctx context.Context, tenantID string) (string, error) {
	u := c.baseURL + "/v1/warehouses/first-active?tenant_id=" + url.QueryEscape(tenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(internalSecretHeader, c.internalSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "warehouse lookup error")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("warehouse lookup failed",
			j.KV("status", resp.StatusCode))
	}

	var wr warehouseResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return "", errors.Wrap(err, "decode warehouse response error")
	}
	return wr.WarehouseID, nil
}

func (c *StockClient) post(ctx context.Context, path string, body interface{}) error {
	var sr stockResponse
	err := postJSON(ctx, c.httpClient, c.baseURL+path, c.internalSecret, body, &sr)
	if err != nil {
		return err
	}
	if !sr.Success {
		return errors.New("stock operation failed", j.KV("error", sr.Error))
	}
	return nil
}

// postJSON posts the body and decodes a 2xx response into out. Non-2xx
// responses are errors carrying the status code and response body.
func postJSON(ctx context.Context, cl *http.Client, u, secret string,
	body, out interface{},
) error {
	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request error")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalSecretHeader, secret)

	resp, err := cl.Do(req)
	if err != nil {
		return errors.Wrap(err, "request error", j.KV("url", u))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.New("unexpected response", j.MKV{
			"url":    u,
			"status": resp.StatusCode,
			"body":   string(msg),
		})
	}

	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response error")
}
