package api

import (
	"context"
	"net/http"

	"github.com/mmeshcher/storybook-companion/internal/model"
)

// Credentials содержит данные для входа.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration содержит данные для регистрации.
type Registration struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	Name              string `json:"name"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
}

// AuthResult содержит результат входа, регистрации или подтверждения почты.
type AuthResult struct {
	User                 *model.User `json:"user"`
	Token                string      `json:"token"`
	RequiresVerification bool        `json:"requiresVerification"`
}

// ProfileUpdate содержит изменяемые поля профиля. Пустые указатели не отправляются.
type ProfileUpdate struct {
	Name              *string `json:"name,omitempty"`
	PreferredLanguage *string `json:"preferredLanguage,omitempty"`
}

// PasswordChange содержит старый и новый пароль.
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Login вызывает POST /auth/login.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResult, error) {
	var out AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout вызывает POST /auth/logout.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Me вызывает GET /auth/me и возвращает текущего пользователя.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out struct {
		User *model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Register вызывает POST /auth/register.
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResult, error) {
	var out AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/register", reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyEmail вызывает POST /auth/verify-email.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"token": token}
	if err := c.do(ctx, http.MethodPost, "/auth/verify-email", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResendVerification вызывает POST /auth/resend-verification.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/resend-verification", map[string]string{"email": email}, nil)
}

// Profile вызывает GET /user/profile.
func (c *Client) Profile(ctx context.Context) (*model.User, error) {
	var out struct {
		User *model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/profile", nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// UpdateProfile вызывает POST /user/profile.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*model.User, error) {
	var out struct {
		User *model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/user/profile", upd, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// ChangePassword вызывает POST /user/change-password.
func (c *Client) ChangePassword(ctx context.Context, pc PasswordChange) error {
	return c.do(ctx, http.MethodPost, "/user/change-password", pc, nil)
}
