// Package middleware содержит HTTP middleware компаньона: клиентский перехватчик ответов 401
// и серверные обработчики для локального API.
package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// UnauthorizedInterceptor представляет транспорт, который при ответе 401 на запрос, отправленный
// в аутентифицированной сессии, принудительно сбрасывает сессию. Ответ и ошибка
// возвращаются вызывающему без изменений.
type UnauthorizedInterceptor struct {
	next            http.RoundTripper
	isAuthenticated func() bool
	forcedClear     func() bool
	logger          *zap.Logger
}

// NewUnauthorizedInterceptor создаёт перехватчик. isAuthenticated читает текущее состояние сессии,
// forcedClear сбрасывает её и возвращает true, если переход действительно произошёл.
func NewUnauthorizedInterceptor(next http.RoundTripper, isAuthenticated func() bool, forcedClear func() bool, logger *zap.Logger) *UnauthorizedInterceptor {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnauthorizedInterceptor{
		next:            next,
		isAuthenticated: isAuthenticated,
		forcedClear:     forcedClear,
		logger:          logger,
	}
}

// RoundTrip выполняет запрос и проверяет статус ответа.
func (i *UnauthorizedInterceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := i.next.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}

	if resp.StatusCode == http.StatusUnauthorized && i.isAuthenticated() {
		if i.forcedClear() {
			i.logger.Info("session rejected by server, cleared",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.String("requestID", req.Header.Get("X-Request-ID")),
			)
		}
	}

	return resp, nil
}
