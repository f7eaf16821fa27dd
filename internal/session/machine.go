// Package session реализует машину состояний сессии пользователя.
//
// Машина оптимистично восстанавливает сессию из кэша учётных данных при старте,
// проверяет её на сервере и зеркалирует каждое изменение обратно в кэш. Понизить
// аутентифицированную сессию может только принудительная очистка по ответу 401.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/storybook-companion/internal/api"
	"github.com/mmeshcher/storybook-companion/internal/credcache"
	"github.com/mmeshcher/storybook-companion/internal/model"
	"github.com/mmeshcher/storybook-companion/internal/validation"
)

var (
	// ErrNotAuthenticated возвращается для операций, требующих входа.
	ErrNotAuthenticated = errors.New("not authenticated")

	errNoUser = errors.New("server response has no user")
)

// API описывает методы API аутентификации и профиля.
type API interface {
	Login(ctx context.Context, creds api.Credentials) (*api.AuthResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*model.User, error)
	Register(ctx context.Context, reg api.Registration) (*api.AuthResult, error)
	VerifyEmail(ctx context.Context, token string) (*api.AuthResult, error)
	ResendVerification(ctx context.Context, email string) error
	Profile(ctx context.Context) (*model.User, error)
	UpdateProfile(ctx context.Context, upd api.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, pc api.PasswordChange) error
}

// CredentialStore хранит учётные данные между запусками.
type CredentialStore interface {
	Read(ctx context.Context) *credcache.Credential
	Write(ctx context.Context, cred *credcache.Credential)
}

// Balance описывает реестр кредитов, из которого сессия берёт баланс пользователя.
type Balance interface {
	NextTicket() uint64
	ApplyServerBalance(ticket uint64, balance int64) error
	Balance() (int64, bool)
	Reset()
	SetBalanceListener(fn func(int64))
}

// Machine реализует машину состояний сессии.
type Machine struct {
	api    API
	cache  CredentialStore
	ledger Balance
	logger *zap.Logger

	mu       sync.Mutex
	state    model.Session
	token    string
	epoch    uint64
	hydrated bool
}

// New создаёт машину сессии и подписывает её на изменения баланса в реестре.
func New(a API, cache CredentialStore, ledger Balance, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		api:    a,
		cache:  cache,
		ledger: ledger,
		logger: logger,
		state:  model.Session{Confidence: model.ConfidenceUnknown},
	}
	ledger.SetBalanceListener(m.persistBalance)
	return m
}

// Hydrate восстанавливает сессию из кэша. Кэш читается только при первом вызове.
func (m *Machine) Hydrate(ctx context.Context) {
	m.mu.Lock()
	if m.hydrated {
		m.mu.Unlock()
		return
	}
	m.hydrated = true
	m.mu.Unlock()

	cred := m.cache.Read(ctx)
	if cred == nil || cred.User == nil {
		m.logger.Debug("no stored credential")
		return
	}

	ticket := m.ledger.NextTicket()

	m.mu.Lock()
	m.state.User = cred.User.Clone()
	m.state.IsAuthenticated = true
	m.state.Confidence = model.ConfidenceOptimistic
	m.token = cred.Token
	m.mu.Unlock()

	m.applyBalance(ticket, cred.User.CreditsBalance)
	m.logger.Info("session restored from cache", zap.Int64("user_id", cred.User.ID))
}

// BeginSessionCheck проверяет сессию на сервере. Проверка выполняется не более одного
// раза за время жизни процесса: флаги выставляются до сетевого вызова, поэтому
// одновременные вызовы не порождают повторных запросов. Ошибки проверки не
// возвращаются и не сбрасывают аутентифицированное состояние.
// Возвращает true, если проверка была выполнена этим вызовом.
func (m *Machine) BeginSessionCheck(ctx context.Context) bool {
	m.mu.Lock()
	if m.state.HasAttemptedAuth || m.state.IsValidatingSession {
		m.mu.Unlock()
		return false
	}
	m.state.HasAttemptedAuth = true
	m.state.IsValidatingSession = true
	epoch := m.epoch
	m.mu.Unlock()

	ticket := m.ledger.NextTicket()
	user, err := m.api.Me(ctx)
	if err == nil && user == nil {
		err = errNoUser
	}

	m.mu.Lock()
	m.state.IsValidatingSession = false

	if err != nil {
		if !m.state.IsAuthenticated {
			m.state.Confidence = model.ConfidenceConfirmed
		}
		authenticated := m.state.IsAuthenticated
		m.mu.Unlock()

		m.logger.Info("session check failed",
			zap.Bool("authenticated", authenticated),
			zap.Error(err),
		)
		return true
	}

	if epoch != m.epoch {
		m.mu.Unlock()
		m.logger.Info("discarding session check superseded by another transition")
		return true
	}

	m.state.User = user.Clone()
	m.state.IsAuthenticated = true
	m.state.Confidence = model.ConfidenceConfirmed
	m.epoch++
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.applyBalance(ticket, user.CreditsBalance)
	return true
}

// Login выполняет вход. Ошибка сервера сохраняется в состоянии и возвращается вызывающему.
func (m *Machine) Login(ctx context.Context, email, password string) error {
	if err := validation.Credentials(email, password); err != nil {
		return err
	}

	m.startLoading()
	ticket := m.ledger.NextTicket()

	res, err := m.api.Login(ctx, api.Credentials{Email: email, Password: password})
	if err == nil && (res == nil || res.User == nil) {
		err = errNoUser
	}
	if err != nil {
		m.fail(err)
		return fmt.Errorf("login: %w", err)
	}

	m.authenticate(ctx, res.User, res.Token, ticket)
	m.logger.Info("user logged in", zap.Int64("user_id", res.User.ID))
	return nil
}

// Register регистрирует пользователя. Если сервер требует подтверждения почты,
// сессия остаётся анонимной, а адрес запоминается в PendingVerificationEmail.
func (m *Machine) Register(ctx context.Context, reg api.Registration) error {
	if err := validation.Registration(reg.Email, reg.Password, reg.Name, reg.PreferredLanguage); err != nil {
		return err
	}

	m.startLoading()
	ticket := m.ledger.NextTicket()

	res, err := m.api.Register(ctx, reg)
	if err != nil {
		m.fail(err)
		return fmt.Errorf("register: %w", err)
	}

	if res != nil && res.User != nil && !res.RequiresVerification {
		m.authenticate(ctx, res.User, res.Token, ticket)
		m.logger.Info("user registered", zap.Int64("user_id", res.User.ID))
		return nil
	}

	m.mu.Lock()
	m.state.IsLoading = false
	m.state.PendingVerificationEmail = reg.Email
	m.mu.Unlock()

	m.logger.Info("registration awaits email verification")
	return nil
}

// VerifyEmail подтверждает почту по токену из письма и завершает регистрацию.
func (m *Machine) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return validation.FieldErrors{"token": "required"}
	}

	m.startLoading()
	ticket := m.ledger.NextTicket()

	res, err := m.api.VerifyEmail(ctx, token)
	if err != nil {
		m.fail(err)
		return fmt.Errorf("verify email: %w", err)
	}

	if res != nil && res.User != nil {
		m.authenticate(ctx, res.User, res.Token, ticket)
		return nil
	}

	m.mu.Lock()
	m.state.IsLoading = false
	m.state.PendingVerificationEmail = ""
	m.mu.Unlock()
	return nil
}

// ResendVerification повторно отправляет письмо с подтверждением. Пустой email
// заменяется адресом, ожидающим подтверждения.
func (m *Machine) ResendVerification(ctx context.Context, email string) error {
	if email == "" {
		m.mu.Lock()
		email = m.state.PendingVerificationEmail
		m.mu.Unlock()
	}
	if !validation.IsValidEmail(email) {
		return validation.FieldErrors{"email": "invalid email"}
	}

	if err := m.api.ResendVerification(ctx, email); err != nil {
		return fmt.Errorf("resend verification: %w", err)
	}
	return nil
}

// UpdateProfile обновляет профиль и сохраняет нового пользователя в кэш.
func (m *Machine) UpdateProfile(ctx context.Context, upd api.ProfileUpdate) error {
	if err := validation.Profile(upd.Name, upd.PreferredLanguage); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.state.IsAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	epoch := m.epoch
	m.mu.Unlock()

	ticket := m.ledger.NextTicket()
	user, err := m.api.UpdateProfile(ctx, upd)
	if err == nil && user == nil {
		err = errNoUser
	}
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	return m.applyProfile(ctx, epoch, ticket, user)
}

// RefreshProfile перечитывает профиль текущего пользователя с сервера.
func (m *Machine) RefreshProfile(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.IsAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	epoch := m.epoch
	m.mu.Unlock()

	ticket := m.ledger.NextTicket()
	user, err := m.api.Profile(ctx)
	if err == nil && user == nil {
		err = errNoUser
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	return m.applyProfile(ctx, epoch, ticket, user)
}

// applyProfile применяет ответ профиля, если с момента запроса сессия не сменилась.
// Проверка сессии, начатая раньше, после этого будет отброшена.
func (m *Machine) applyProfile(ctx context.Context, epoch, ticket uint64, user *model.User) error {
	m.mu.Lock()
	if !m.state.IsAuthenticated || !m.sameUserLocked(epoch, user.ID) {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.state.User = user.Clone()
	m.epoch++
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.applyBalance(ticket, user.CreditsBalance)
	return nil
}

// sameUserLocked сообщает, что сессия принадлежит тому же пользователю, что и при отправке запроса.
func (m *Machine) sameUserLocked(epoch uint64, userID int64) bool {
	if epoch == m.epoch {
		return true
	}
	return m.state.User != nil && m.state.User.ID == userID
}

// ChangePassword меняет пароль текущего пользователя.
func (m *Machine) ChangePassword(ctx context.Context, current, next string) error {
	if err := validation.PasswordChange(current, next); err != nil {
		return err
	}
	if !m.Snapshot().IsAuthenticated {
		return ErrNotAuthenticated
	}

	if err := m.api.ChangePassword(ctx, api.PasswordChange{CurrentPassword: current, NewPassword: next}); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// Logout завершает сессию. Локальное состояние и кэш очищаются всегда,
// даже если сервер не ответил.
func (m *Machine) Logout(ctx context.Context) {
	if err := m.api.Logout(ctx); err != nil {
		m.logger.Warn("remote logout failed", zap.Error(err))
	}

	m.mu.Lock()
	m.clearLocked(ctx)
	m.mu.Unlock()

	m.logger.Info("user logged out")
}

// ForcedClear сбрасывает аутентифицированную сессию после ответа 401.
// Если сессия уже анонимна, ничего не делает и возвращает false.
func (m *Machine) ForcedClear(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsAuthenticated {
		return false
	}
	m.clearLocked(ctx)
	return true
}

// IsAuthenticated сообщает, считает ли машина сессию действующей.
func (m *Machine) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsAuthenticated
}

// Token возвращает токен доступа текущей сессии.
func (m *Machine) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Snapshot возвращает копию состояния. Баланс пользователя берётся из реестра кредитов.
func (m *Machine) Snapshot() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	s.User = m.state.User.Clone()
	if s.User != nil {
		if balance, known := m.ledger.Balance(); known {
			s.User.CreditsBalance = balance
		}
	}
	return s
}

func (m *Machine) startLoading() {
	m.mu.Lock()
	m.state.IsLoading = true
	m.state.Error = nil
	m.mu.Unlock()
}

func (m *Machine) fail(err error) {
	m.mu.Lock()
	m.state.IsLoading = false
	m.state.Error = err
	m.mu.Unlock()

	m.logger.Info("session operation failed", zap.Error(err))
}

func (m *Machine) authenticate(ctx context.Context, user *model.User, token string, ticket uint64) {
	m.mu.Lock()
	m.state.User = user.Clone()
	m.state.IsAuthenticated = true
	m.state.IsLoading = false
	m.state.Error = nil
	m.state.HasAttemptedAuth = true
	m.state.Confidence = model.ConfidenceConfirmed
	m.state.PendingVerificationEmail = ""
	m.token = token
	m.epoch++
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.applyBalance(ticket, user.CreditsBalance)
}

func (m *Machine) clearLocked(ctx context.Context) {
	m.state = model.Session{
		HasAttemptedAuth: true,
		Confidence:       model.ConfidenceConfirmed,
	}
	m.token = ""
	m.epoch++
	m.cache.Write(context.WithoutCancel(ctx), nil)
	m.ledger.Reset()
}

func (m *Machine) persistLocked(ctx context.Context) {
	m.cache.Write(context.WithoutCancel(ctx), &credcache.Credential{
		User:  m.state.User.Clone(),
		Token: m.token,
	})
}

// applyBalance вызывается без m.mu: реестр синхронно уведомляет persistBalance.
func (m *Machine) applyBalance(ticket uint64, balance int64) {
	if err := m.ledger.ApplyServerBalance(ticket, balance); err != nil {
		m.logger.Debug("balance from session response not applied", zap.Error(err))
	}
}

func (m *Machine) persistBalance(balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsAuthenticated || m.state.User == nil || m.state.User.CreditsBalance == balance {
		return
	}
	m.state.User.CreditsBalance = balance
	m.persistLocked(context.Background())
}
