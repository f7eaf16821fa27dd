package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmeshcher/storybook-companion/internal/model"
)

// CostRequest содержит параметры расчёта стоимости печати.
type CostRequest struct {
	BookID         int64  `json:"bookId"`
	Quantity       int    `json:"quantity"`
	ShippingMethod string `json:"shippingMethod"`
	CountryCode    string `json:"countryCode"`
}

// ShippingOptions вызывает GET /print-orders/shipping-options.
func (c *Client) ShippingOptions(ctx context.Context, bookID int64, country string, quantity int) ([]model.ShippingOption, error) {
	var out struct {
		Options []model.ShippingOption `json:"options"`
	}
	path := fmt.Sprintf("/print-orders/shipping-options?bookId=%d&country=%s&quantity=%d",
		bookID, url.QueryEscape(country), quantity)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Options, nil
}

// CalculateCost вызывает POST /print-orders/calculate-cost.
func (c *Client) CalculateCost(ctx context.Context, req CostRequest) (*model.CostBreakdown, error) {
	var out model.CostBreakdown
	if err := c.do(ctx, http.MethodPost, "/print-orders/calculate-cost", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
