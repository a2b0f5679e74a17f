package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/order-fulfillment/pkg/idempotency"
)

type orderView struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	TotalAmount string `json:"total_amount"`
	TotalItems  int    `json:"total_items"`
	ShippedAt   string `json:"shipped_at"`
	DeliveredAt string `json:"delivered_at"`
}

func (o orderView) String() string {
	return fmt.Sprintf("%s (%s) status=%s total=%s items=%d", o.OrderNumber, o.ID, o.Status, o.TotalAmount, o.TotalItems)
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *apiClient) create(ctx context.Context, userID, productID string, qty int) (orderView, error) {
	return c.do(ctx, http.MethodPost, "/orders", map[string]any{
		"user_id": userID,
		"items":   []map[string]any{{"product_id": productID, "quantity": qty}},
	})
}

func (c *apiClient) get(ctx context.Context, id string) (orderView, error) {
	return c.do(ctx, http.MethodGet, "/orders/"+id, nil)
}

func (c *apiClient) setStatus(ctx context.Context, id, status string) (orderView, error) {
	return c.do(ctx, http.MethodPut, "/orders/"+id+"/status", map[string]string{"status": status})
}

func (c *apiClient) cancel(ctx context.Context, id, reason string) (orderView, error) {
	return c.do(ctx, http.MethodPost, "/orders/"+id+"/cancel", map[string]string{"reason": reason})
}

func (c *apiClient) do(ctx context.Context, method, path string, payload any) (orderView, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return orderView{}, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return orderView{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost && path == "/orders" {
		req.Header.Set(idempotency.Header, uuid.NewString())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return orderView{}, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return orderView{}, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
		}
		return orderView{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var o orderView
	if err := json.Unmarshal(data, &o); err != nil {
		return orderView{}, fmt.Errorf("decode order: %w", err)
	}
	return o, nil
}
