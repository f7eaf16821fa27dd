// Package model содержит доменные сущности компаньона сервиса детских книг.
package model

import "time"

// User описывает профиль пользователя, возвращаемый API.
type User struct {
	ID                int64  `json:"id"`
	Email             string `json:"email"`
	Name              string `json:"name,omitempty"`
	CreditsBalance    int64  `json:"creditsBalance"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
	IsVerified        bool   `json:"isVerified"`
}

// Clone возвращает независимую копию пользователя.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// AuthConfidence описывает степень доверия к текущему состоянию аутентификации.
type AuthConfidence string

const (
	// ConfidenceUnknown означает, что о сессии ничего не известно.
	ConfidenceUnknown AuthConfidence = "unknown"
	// ConfidenceOptimistic означает, что сессия восстановлена из кэша и ждёт подтверждения сервером.
	ConfidenceOptimistic AuthConfidence = "optimistic"
	// ConfidenceConfirmed означает, что сервер подтвердил состояние сессии.
	ConfidenceConfirmed AuthConfidence = "confirmed"
)

// SessionPhase описывает состояние машины сессии.
type SessionPhase string

const (
	PhaseAnonymous          SessionPhase = "anonymous"
	PhaseValidating         SessionPhase = "validating"
	PhaseAuthenticated      SessionPhase = "authenticated"
	PhaseAnonymousConfirmed SessionPhase = "anonymous_confirmed"
	PhaseError              SessionPhase = "error"
)

// Session описывает снимок состояния сессии для слоя представления.
type Session struct {
	User                     *User          `json:"user"`
	IsAuthenticated          bool           `json:"isAuthenticated"`
	IsLoading                bool           `json:"isLoading"`
	Error                    error          `json:"-"`
	HasAttemptedAuth         bool           `json:"hasAttemptedAuth"`
	IsValidatingSession      bool           `json:"isValidatingSession"`
	Confidence               AuthConfidence `json:"confidence"`
	PendingVerificationEmail string         `json:"pendingVerificationEmail,omitempty"`
}

// Phase вычисляет фазу машины состояний по флагам снимка.
func (s Session) Phase() SessionPhase {
	switch {
	case s.IsValidatingSession || s.IsLoading:
		return PhaseValidating
	case s.IsAuthenticated:
		return PhaseAuthenticated
	case s.Error != nil:
		return PhaseError
	case s.HasAttemptedAuth:
		return PhaseAnonymousConfirmed
	default:
		return PhaseAnonymous
	}
}

// TransactionType описывает тип операции с кредитами.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionRefund   TransactionType = "refund"
)

// Transaction описывает одну операцию с кредитами.
type Transaction struct {
	ID          string          `json:"id"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	BookID      *int64          `json:"bookId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Pagination хранит состояние постраничной загрузки истории.
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// Credits описывает снимок кредитного баланса и истории операций.
type Credits struct {
	Balance      int64         `json:"balance"`
	Known        bool          `json:"known"`
	Pending      int64         `json:"pendingDelta"`
	Transactions []Transaction `json:"transactions"`
	Pagination   Pagination    `json:"pagination"`
}

// CostItem содержит стоимость одной позиции с налогом.
type CostItem struct {
	TotalCostInclTax float64 `json:"total_cost_incl_tax"`
}

// CostBreakdown содержит детализацию стоимости печати от сервиса фулфилмента.
type CostBreakdown struct {
	LineItems    []CostItem `json:"line_items"`
	Fulfillment  CostItem   `json:"fulfillment"`
	Shipping     CostItem   `json:"shipping"`
	TotalCostUSD float64    `json:"total_cost_usd"`
	TotalCostGBP float64    `json:"total_cost_gbp"`
}

// LineItemsCost возвращает сумму стоимости всех позиций.
func (b CostBreakdown) LineItemsCost() float64 {
	var sum float64
	for _, it := range b.LineItems {
		sum += it.TotalCostInclTax
	}
	return sum
}

// ShippingOption описывает доступный способ доставки.
type ShippingOption struct {
	Method        string  `json:"method"`
	Name          string  `json:"name"`
	MinDays       int     `json:"min_days"`
	MaxDays       int     `json:"max_days"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// BookReference описывает книгу, ссылающуюся на удаляемую сущность.
type BookReference struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}
