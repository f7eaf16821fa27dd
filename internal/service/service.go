// Package service объединяет сессию, кредиты и оформление печатного заказа
// в одну точку входа для локального API компаньона.
package service

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storybook-companion/internal/api"
	"github.com/mmeshcher/storybook-companion/internal/model"
	"github.com/mmeshcher/storybook-companion/internal/printorder"
	"github.com/mmeshcher/storybook-companion/internal/session"
)

// Session описывает машину состояний сессии.
type Session interface {
	BeginSessionCheck(ctx context.Context) bool
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context)
	Register(ctx context.Context, reg api.Registration) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	RefreshProfile(ctx context.Context) error
	UpdateProfile(ctx context.Context, upd api.ProfileUpdate) error
	ChangePassword(ctx context.Context, current, next string) error
	IsAuthenticated() bool
	Snapshot() model.Session
}

// Credits описывает реестр кредитов.
type Credits interface {
	Snapshot() model.Credits
	RefreshBalance(ctx context.Context) (int64, error)
	CreatePurchaseSession(ctx context.Context, packageID string) (*api.PurchaseSession, error)
	VerifyPurchase(ctx context.Context, sessionID string) (*api.PurchaseVerification, error)
	FetchHistory(ctx context.Context, page, limit int) (model.Credits, error)
	SpendLocally(amount int64) error
}

// PrintOrder описывает мастер оформления печатного заказа.
type PrintOrder interface {
	Start(bookID int64)
	SetStep(step printorder.Step) error
	LoadShippingOptions(ctx context.Context, country string, quantity int) ([]model.ShippingOption, error)
	Recalculate(ctx context.Context, method string, quantity int) (*printorder.Quote, error)
	Snapshot() printorder.State
}

// Characters описывает операции с персонажами.
type Characters interface {
	DeleteCharacter(ctx context.Context, id int64, force bool) error
}

// Service представляет фасад компаньона над сессией, кредитами и мастером заказа.
type Service struct {
	session    Session
	credits    Credits
	print      PrintOrder
	characters Characters
	store      io.Closer
	logger     *zap.Logger
}

// NewService создаёт сервис. store закрывается в Close и может быть nil.
func NewService(s Session, c Credits, p PrintOrder, ch Characters, store io.Closer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		session:    s,
		credits:    c,
		print:      p,
		characters: ch,
		store:      store,
		logger:     logger,
	}
}

// Close закрывает хранилище учётных данных.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// SessionSnapshot возвращает снимок сессии.
func (s *Service) SessionSnapshot() model.Session {
	return s.session.Snapshot()
}

// CheckSession запускает проверку сессии, если она ещё не выполнялась.
func (s *Service) CheckSession(ctx context.Context) model.Session {
	s.session.BeginSessionCheck(ctx)
	return s.session.Snapshot()
}

// Login выполняет вход.
func (s *Service) Login(ctx context.Context, email, password string) (model.Session, error) {
	err := s.session.Login(ctx, email, password)
	return s.session.Snapshot(), err
}

// Logout завершает сессию.
func (s *Service) Logout(ctx context.Context) model.Session {
	s.session.Logout(ctx)
	return s.session.Snapshot()
}

// Register регистрирует пользователя.
func (s *Service) Register(ctx context.Context, reg api.Registration) (model.Session, error) {
	err := s.session.Register(ctx, reg)
	return s.session.Snapshot(), err
}

// VerifyEmail подтверждает почту.
func (s *Service) VerifyEmail(ctx context.Context, token string) (model.Session, error) {
	err := s.session.VerifyEmail(ctx, token)
	return s.session.Snapshot(), err
}

// ResendVerification повторно отправляет письмо с подтверждением.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	return s.session.ResendVerification(ctx, email)
}

// RefreshProfile перечитывает профиль с сервера.
func (s *Service) RefreshProfile(ctx context.Context) (model.Session, error) {
	err := s.session.RefreshProfile(ctx)
	return s.session.Snapshot(), err
}

// UpdateProfile обновляет профиль.
func (s *Service) UpdateProfile(ctx context.Context, upd api.ProfileUpdate) (model.Session, error) {
	err := s.session.UpdateProfile(ctx, upd)
	return s.session.Snapshot(), err
}

// ChangePassword меняет пароль.
func (s *Service) ChangePassword(ctx context.Context, current, next string) error {
	return s.session.ChangePassword(ctx, current, next)
}

// CreditsSnapshot возвращает снимок кредитов.
func (s *Service) CreditsSnapshot() model.Credits {
	return s.credits.Snapshot()
}

// RefreshBalance перечитывает баланс с сервера.
func (s *Service) RefreshBalance(ctx context.Context) (model.Credits, error) {
	if !s.session.IsAuthenticated() {
		return model.Credits{}, session.ErrNotAuthenticated
	}
	if _, err := s.credits.RefreshBalance(ctx); err != nil {
		return s.credits.Snapshot(), err
	}
	return s.credits.Snapshot(), nil
}

// CreatePurchaseSession открывает платёжную сессию для пакета кредитов.
func (s *Service) CreatePurchaseSession(ctx context.Context, packageID string) (*api.PurchaseSession, error) {
	if !s.session.IsAuthenticated() {
		return nil, session.ErrNotAuthenticated
	}
	return s.credits.CreatePurchaseSession(ctx, packageID)
}

// VerifyPurchase проверяет оплату после возврата от платёжного провайдера.
func (s *Service) VerifyPurchase(ctx context.Context, sessionID string) (model.Credits, error) {
	if !s.session.IsAuthenticated() {
		return model.Credits{}, session.ErrNotAuthenticated
	}
	res, err := s.credits.VerifyPurchase(ctx, sessionID)
	if err != nil {
		return s.credits.Snapshot(), err
	}
	s.logger.Info("purchase verified", zap.Int64("balance", res.NewBalance))
	return s.credits.Snapshot(), nil
}

// FetchHistory загружает страницу истории операций.
func (s *Service) FetchHistory(ctx context.Context, page, limit int) (model.Credits, error) {
	if !s.session.IsAuthenticated() {
		return model.Credits{}, session.ErrNotAuthenticated
	}
	return s.credits.FetchHistory(ctx, page, limit)
}

// SpendLocally оптимистично списывает кредиты до ответа сервера.
func (s *Service) SpendLocally(amount int64) (model.Credits, error) {
	if !s.session.IsAuthenticated() {
		return model.Credits{}, session.ErrNotAuthenticated
	}
	if err := s.credits.SpendLocally(amount); err != nil {
		return s.credits.Snapshot(), err
	}
	return s.credits.Snapshot(), nil
}

// DeleteCharacter удаляет персонажа. Без force сервер может потребовать подтверждения.
func (s *Service) DeleteCharacter(ctx context.Context, id int64, force bool) error {
	if !s.session.IsAuthenticated() {
		return session.ErrNotAuthenticated
	}
	return s.characters.DeleteCharacter(ctx, id, force)
}

// PrintSnapshot возвращает состояние мастера заказа.
func (s *Service) PrintSnapshot() printorder.State {
	return s.print.Snapshot()
}

// StartPrintOrder начинает оформление заказа для книги.
func (s *Service) StartPrintOrder(bookID int64) printorder.State {
	s.print.Start(bookID)
	return s.print.Snapshot()
}

// SetPrintStep переключает шаг мастера.
func (s *Service) SetPrintStep(step printorder.Step) (printorder.State, error) {
	err := s.print.SetStep(step)
	return s.print.Snapshot(), err
}

// LoadShippingOptions загружает способы доставки.
func (s *Service) LoadShippingOptions(ctx context.Context, country string, quantity int) (printorder.State, error) {
	_, err := s.print.LoadShippingOptions(ctx, country, quantity)
	return s.print.Snapshot(), err
}

// RecalculateQuote пересчитывает стоимость заказа.
func (s *Service) RecalculateQuote(ctx context.Context, method string, quantity int) (printorder.State, error) {
	_, err := s.print.Recalculate(ctx, method, quantity)
	return s.print.Snapshot(), err
}

// StartBalanceSync запускает фоновое обновление баланса, пока сессия аутентифицирована.
func (s *Service) StartBalanceSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.syncBalance(ctx)
			}
		}
	}()
}

func (s *Service) syncBalance(ctx context.Context) {
	if !s.session.IsAuthenticated() {
		return
	}

	balance, err := s.credits.RefreshBalance(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("background balance sync failed", zap.Error(err))
		}
		return
	}
	s.logger.Debug("balance synced", zap.Int64("balance", balance))
}
