// Package validation содержит функции валидации входных данных форм.
package validation

import (
	"net/mail"
	"sort"
	"strings"
	"unicode"
)

const (
	minPasswordLength = 8
	maxNameLength     = 100
	maxQuantity       = 100
)

var supportedLanguages = map[string]struct{}{
	"en": {}, "lt": {}, "ru": {}, "de": {}, "fr": {}, "es": {},
}

// FieldErrors содержит ошибки валидации по полям формы.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Err возвращает nil, если ошибок нет.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	return f
}

// IsValidEmail проверяет адрес электронной почты.
func IsValidEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// IsValidCountryCode проверяет двухбуквенный код страны ISO 3166-1.
func IsValidCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if !unicode.IsUpper(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// Credentials проверяет форму входа.
func Credentials(email, password string) error {
	errs := FieldErrors{}
	if !IsValidEmail(email) {
		errs["email"] = "invalid email"
	}
	if password == "" {
		errs["password"] = "required"
	}
	return errs.Err()
}

// Registration проверяет форму регистрации.
func Registration(email, password, name, language string) error {
	errs := FieldErrors{}
	if !IsValidEmail(email) {
		errs["email"] = "invalid email"
	}
	checkPassword(errs, "password", password)
	checkName(errs, name)
	if language != "" {
		if _, ok := supportedLanguages[language]; !ok {
			errs["preferredLanguage"] = "unsupported language"
		}
	}
	return errs.Err()
}

// Profile проверяет изменение профиля. Nil-поля не меняются и не проверяются.
func Profile(name, language *string) error {
	errs := FieldErrors{}
	if name == nil && language == nil {
		errs["profile"] = "nothing to update"
	}
	if name != nil {
		checkName(errs, *name)
	}
	if language != nil {
		if _, ok := supportedLanguages[*language]; !ok {
			errs["preferredLanguage"] = "unsupported language"
		}
	}
	return errs.Err()
}

// PasswordChange проверяет форму смены пароля.
func PasswordChange(current, next string) error {
	errs := FieldErrors{}
	if current == "" {
		errs["currentPassword"] = "required"
	}
	checkPassword(errs, "newPassword", next)
	if _, bad := errs["newPassword"]; !bad && current != "" && current == next {
		errs["newPassword"] = "must differ from current password"
	}
	return errs.Err()
}

// Quote проверяет параметры расчёта стоимости печати.
func Quote(method string, quantity int, country string) error {
	errs := FieldErrors{}
	if strings.TrimSpace(method) == "" {
		errs["shippingMethod"] = "required"
	}
	if quantity < 1 || quantity > maxQuantity {
		errs["quantity"] = "must be between 1 and 100"
	}
	if !IsValidCountryCode(country) {
		errs["countryCode"] = "invalid country code"
	}
	return errs.Err()
}

func checkPassword(errs FieldErrors, field, password string) {
	if len([]rune(password)) < minPasswordLength {
		errs[field] = "must be at least 8 characters"
		return
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		errs[field] = "must contain letters and digits"
	}
}

func checkName(errs FieldErrors, name string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		errs["name"] = "required"
		return
	}
	if len([]rune(trimmed)) > maxNameLength {
		errs["name"] = "too long"
	}
}
