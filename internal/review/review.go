// Package review предоставляет клиент сервиса отзывов.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Purger удаляет отзывы покупателя о товарах.
type Purger interface {
	PurgeReviews(ctx context.Context, customerID int64, productIDs []string) error
}

// Noop ничего не удаляет.
type Noop struct{}

func (Noop) PurgeReviews(_ context.Context, _ int64, _ []string) error {
	return nil
}

// Client инкапсулирует HTTP-взаимодействие с сервисом отзывов.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type purgeRequest struct {
	CustomerID int64    `json:"customer_id"`
	ProductIDs []string `json:"product_ids"`
}

// NewClient создаёт HTTP-клиент сервиса отзывов по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// PurgeReviews просит сервис отзывов удалить отзывы покупателя о перечисленных товарах.
func (c *Client) PurgeReviews(ctx context.Context, customerID int64, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}

	body, err := json.Marshal(purgeRequest{CustomerID: customerID, ProductIDs: productIDs})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/reviews/purge", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}
