package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmeshcher/storybook-companion/internal/model"
)

// PurchaseSession описывает сессию оплаты во внешнем платёжном процессоре.
type PurchaseSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// PurchaseVerification содержит результат проверки оплаты.
type PurchaseVerification struct {
	NewBalance  int64              `json:"newBalance"`
	Transaction *model.Transaction `json:"transaction"`
}

// HistoryPage содержит страницу истории операций.
type HistoryPage struct {
	Transactions []model.Transaction `json:"transactions"`
	Pagination   model.Pagination    `json:"pagination"`
}

// CreatePurchaseSession вызывает POST /credits/purchase-session.
func (c *Client) CreatePurchaseSession(ctx context.Context, packageID string) (*PurchaseSession, error) {
	var out PurchaseSession
	body := map[string]string{"packageId": packageID}
	if err := c.do(ctx, http.MethodPost, "/credits/purchase-session", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyPurchase вызывает POST /credits/verify?session_id=.
func (c *Client) VerifyPurchase(ctx context.Context, sessionID string) (*PurchaseVerification, error) {
	var out PurchaseVerification
	path := "/credits/verify?session_id=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance вызывает GET /credits/balance.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/credits/balance", nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// History вызывает GET /credits/history?page&limit.
func (c *Client) History(ctx context.Context, page, limit int) (*HistoryPage, error) {
	var out HistoryPage
	path := fmt.Sprintf("/credits/history?page=%d&limit=%d", page, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
