package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mmeshcher/storybook-companion/internal/model"
)

var (
	// ErrNotConfigured возвращается, если клиент создан без базового адреса.
	ErrNotConfigured = errors.New("api client not configured")
	// ErrTransport оборачивает ошибки, при которых ответ от сервера не получен.
	ErrTransport = errors.New("transport failure")
)

// Error описывает ответ API с кодом статуса не из диапазона 2xx.
type Error struct {
	Status               int
	Code                 string
	Message              string
	Fields               map[string]string
	ConfirmationRequired bool
	Data                 json.RawMessage
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d: %s (%s)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// ReferencingBooks возвращает книги из ответа, требующего подтверждения.
func (e *Error) ReferencingBooks() []model.BookReference {
	if len(e.Data) == 0 {
		return nil
	}
	var payload struct {
		Books []model.BookReference `json:"books"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return nil
	}
	return payload.Books
}

// AsError извлекает *Error из цепочки ошибок.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized сообщает, что сервер отверг аутентификацию.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.Status == http.StatusUnauthorized
}

// IsTransport сообщает, что ответ от сервера не был получен.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsConfirmationRequired сообщает, что операцию нужно повторить с явным флагом force.
func IsConfirmationRequired(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.ConfirmationRequired
}
