// Package credcache реализует постоянный кэш учётных данных, из которого сессия
// оптимистично восстанавливается при старте процесса.
package credcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storybook-companion/internal/model"
	"github.com/mmeshcher/storybook-companion/internal/storage"
)

const (
	keyUser          = "storybook.user"
	keyAuthenticated = "storybook.isAuthenticated"
	keyToken         = "storybook.token"

	defaultSecret = "storybook-companion"
)

var allKeys = []string{keyUser, keyAuthenticated, keyToken}

var errInconsistent = errors.New("user and authenticated flag disagree")

// Credential содержит сохранённую пару пользователя и токена доступа.
type Credential struct {
	User  *model.User
	Token string
}

// Cache читает и пишет сохранённые учётные данные. Ошибки хранилища логируются и не
// пробрасываются: при недоступном хранилище сессия живёт только в памяти.
type Cache struct {
	store  storage.Store
	signer signer
	logger *zap.Logger
	now    func() time.Time
}

// New создаёт кэш поверх хранилища. Пустой secret заменяется значением по умолчанию.
func New(store storage.Store, secret string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:  store,
		signer: newSigner(secret),
		logger: logger,
		now:    time.Now,
	}
}

// Read возвращает сохранённые учётные данные или nil. Повреждённые, несогласованные
// и просроченные записи удаляются.
func (c *Cache) Read(ctx context.Context) *Credential {
	cred, err := c.read(ctx)
	if err != nil {
		c.logger.Warn("dropping stored credential", zap.Error(err))
		c.clear(ctx)
		return nil
	}
	return cred
}

func (c *Cache) read(ctx context.Context) (*Credential, error) {
	rawUser, hasUser, err := c.store.Get(ctx, keyUser)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	flag, hasFlag, err := c.store.Get(ctx, keyAuthenticated)
	if err != nil {
		return nil, fmt.Errorf("get flag: %w", err)
	}

	if !hasUser && !hasFlag {
		return nil, nil
	}
	if !hasUser || !hasFlag || flag != "true" {
		return nil, errInconsistent
	}

	payload, ok := c.signer.verify(rawUser)
	if !ok {
		return nil, fmt.Errorf("%w: bad signature", storage.ErrCorrupted)
	}

	var user model.User
	if err := json.Unmarshal([]byte(payload), &user); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupted, err)
	}

	token, _, err := c.store.Get(ctx, keyToken)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if c.expired(token) {
		return nil, errors.New("stored token expired")
	}

	return &Credential{User: &user, Token: token}, nil
}

// expired сообщает, что JWT-токен уже истёк. Непрозрачные токены считаются действительными.
func (c *Cache) expired(token string) bool {
	if token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return !exp.After(c.now())
}

// Write сохраняет учётные данные. Write(nil) удаляет и пользователя, и флаг, и токен.
func (c *Cache) Write(ctx context.Context, cred *Credential) {
	if cred == nil || cred.User == nil {
		c.clear(ctx)
		return
	}

	data, err := json.Marshal(cred.User)
	if err != nil {
		c.logger.Error("marshal stored user", zap.Error(err))
		return
	}

	values := map[string]string{
		keyUser:          c.signer.sign(string(data)),
		keyAuthenticated: "true",
		keyToken:         cred.Token,
	}

	if err := c.store.SetMany(ctx, values); err != nil {
		c.logger.Warn("credential cache write failed, session is memory-only", zap.Error(err))
	}
}

func (c *Cache) clear(ctx context.Context) {
	if err := c.store.DeleteMany(ctx, allKeys...); err != nil {
		c.logger.Warn("credential cache clear failed", zap.Error(err))
	}
}
