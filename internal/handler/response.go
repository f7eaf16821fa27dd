package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/storybook-companion/internal/api"
	"github.com/mmeshcher/storybook-companion/internal/credits"
	"github.com/mmeshcher/storybook-companion/internal/model"
	"github.com/mmeshcher/storybook-companion/internal/printorder"
	"github.com/mmeshcher/storybook-companion/internal/session"
	"github.com/mmeshcher/storybook-companion/internal/validation"
)

// errorBody описывает тело ответа с ошибкой. Перевод сообщения выполняет слой представления.
type errorBody struct {
	Code                 string                `json:"code"`
	Message              string                `json:"message"`
	Fields               map[string]string     `json:"fields,omitempty"`
	ConfirmationRequired bool                  `json:"confirmationRequired,omitempty"`
	Books                []model.BookReference `json:"books,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify переводит ошибку домена в HTTP-статус и тело ответа.
func classify(err error) (int, errorBody) {
	var fe validation.FieldErrors
	if errors.As(err, &fe) {
		return http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: "validation failed", Fields: fe}
	}

	if apiErr, ok := api.AsError(err); ok {
		status := apiErr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		body := errorBody{
			Code:                 apiErr.Code,
			Message:              apiErr.Message,
			Fields:               apiErr.Fields,
			ConfirmationRequired: apiErr.ConfirmationRequired,
			Books:                apiErr.ReferencingBooks(),
		}
		if body.Code == "" {
			body.Code = "API_ERROR"
		}
		return status, body
	}

	switch {
	case api.IsTransport(err):
		return http.StatusBadGateway, errorBody{Code: "NETWORK_ERROR", Message: "service is unreachable"}
	case errors.Is(err, api.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorBody{Code: "NOT_CONFIGURED", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Code: "TIMEOUT", Message: "request timed out"}
	case errors.Is(err, session.ErrNotAuthenticated):
		return http.StatusUnauthorized, errorBody{Code: "NOT_AUTHENTICATED", Message: err.Error()}
	case errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrMissingPackage),
		errors.Is(err, credits.ErrMissingSession),
		errors.Is(err, printorder.ErrUnknownStep):
		return http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: err.Error()}
	case errors.Is(err, credits.ErrStaleResponse),
		errors.Is(err, printorder.ErrNoBook),
		errors.Is(err, printorder.ErrWrongStep),
		errors.Is(err, printorder.ErrStepChanged),
		errors.Is(err, printorder.ErrStaleQuote):
		return http.StatusConflict, errorBody{Code: "CONFLICT", Message: err.Error()}
	}

	return http.StatusInternalServerError, errorBody{Code: "INTERNAL_ERROR", Message: http.StatusText(http.StatusInternalServerError)}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("uri", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: message})
}

// sessionResponse описывает снимок сессии с вычисленной фазой и сохранённой ошибкой.
type sessionResponse struct {
	model.Session
	Phase model.SessionPhase `json:"phase"`
	Error *errorBody         `json:"error,omitempty"`
}

func newSessionResponse(s model.Session) sessionResponse {
	resp := sessionResponse{Session: s, Phase: s.Phase()}
	if s.Error != nil {
		_, body := classify(s.Error)
		resp.Error = &body
	}
	return resp
}

type displayResponse struct {
	Currency printorder.Currency `json:"currency"`
	Total    string              `json:"total"`
	Printing string              `json:"printing"`
	Shipping string              `json:"shipping"`
}

// printResponse содержит состояние мастера и округлённые для отображения суммы.
type printResponse struct {
	printorder.State
	Display *displayResponse `json:"display,omitempty"`
}

func newPrintResponse(s printorder.State) printResponse {
	resp := printResponse{State: s}
	if s.Quote != nil {
		d := s.Quote.Display
		resp.Display = &displayResponse{
			Currency: d.Currency,
			Total:    printorder.FormatMoney(d.Total),
			Printing: printorder.FormatMoney(d.Split.Printing),
			Shipping: printorder.FormatMoney(d.Split.Shipping),
		}
	}
	return resp
}
