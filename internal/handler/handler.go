// Package handler содержит HTTP-обработчики локального API компаньона.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storybook-companion/internal/api"
	"github.com/mmeshcher/storybook-companion/internal/model"
	"github.com/mmeshcher/storybook-companion/internal/printorder"
)

// Service определяет контракт, используемый HTTP-обработчиками.
type Service interface {
	SessionSnapshot() model.Session
	CheckSession(ctx context.Context) model.Session
	Login(ctx context.Context, email, password string) (model.Session, error)
	Logout(ctx context.Context) model.Session
	Register(ctx context.Context, reg api.Registration) (model.Session, error)
	VerifyEmail(ctx context.Context, token string) (model.Session, error)
	ResendVerification(ctx context.Context, email string) error
	RefreshProfile(ctx context.Context) (model.Session, error)
	UpdateProfile(ctx context.Context, upd api.ProfileUpdate) (model.Session, error)
	ChangePassword(ctx context.Context, current, next string) error

	CreditsSnapshot() model.Credits
	RefreshBalance(ctx context.Context) (model.Credits, error)
	CreatePurchaseSession(ctx context.Context, packageID string) (*api.PurchaseSession, error)
	VerifyPurchase(ctx context.Context, sessionID string) (model.Credits, error)
	FetchHistory(ctx context.Context, page, limit int) (model.Credits, error)
	SpendLocally(amount int64) (model.Credits, error)

	DeleteCharacter(ctx context.Context, id int64, force bool) error

	PrintSnapshot() printorder.State
	StartPrintOrder(bookID int64) printorder.State
	SetPrintStep(step printorder.Step) (printorder.State, error)
	LoadShippingOptions(ctx context.Context, country string, quantity int) (printorder.State, error)
	RecalculateQuote(ctx context.Context, method string, quantity int) (printorder.State, error)
}

// Handler реализует HTTP-обработчики локального API.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: s,
		logger:  logger,
	}
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// GetSession возвращает снимок сессии.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSessionResponse(h.service.SessionSnapshot()))
}

// CheckSession запускает фоновую проверку сессии. Ошибки проверки не возвращаются.
func (h *Handler) CheckSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSessionResponse(h.service.CheckSession(r.Context())))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет вход пользователя.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	snap, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// Logout завершает сессию. Всегда отвечает 200: локальный выход не зависит от сервера.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSessionResponse(h.service.Logout(r.Context())))
}

// Register регистрирует нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req api.Registration
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	snap, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !snap.IsAuthenticated {
		status = http.StatusAccepted
	}
	writeJSON(w, status, newSessionResponse(snap))
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

// VerifyEmail подтверждает адрес почты.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	snap, err := h.service.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

type resendRequest struct {
	Email string `json:"email"`
}

// ResendVerification повторно отправляет письмо с подтверждением.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, "invalid json")
			return
		}
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetProfile перечитывает профиль с сервера и возвращает снимок сессии.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.RefreshProfile(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// UpdateProfile обновляет профиль пользователя.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req api.ProfileUpdate
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	snap, err := h.service.UpdateProfile(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// ChangePassword меняет пароль пользователя.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req api.PasswordChange
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	if err := h.service.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCredits возвращает снимок кредитов.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.CreditsSnapshot())
}

// RefreshBalance перечитывает баланс с сервера.
func (h *Handler) RefreshBalance(w http.ResponseWriter, r *http.Request) {
	credits, err := h.service.RefreshBalance(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, credits)
}

type purchaseRequest struct {
	PackageID string `json:"packageId"`
}

// CreatePurchaseSession открывает платёжную сессию и возвращает адрес для перехода.
func (h *Handler) CreatePurchaseSession(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ps, err := h.service.CreatePurchaseSession(r.Context(), req.PackageID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ps)
}

// VerifyPurchase проверяет оплату по идентификатору платёжной сессии.
func (h *Handler) VerifyPurchase(w http.ResponseWriter, r *http.Request) {
	credits, err := h.service.VerifyPurchase(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, credits)
}

// GetHistory возвращает историю операций с кредитами.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(r, "page", 1)
	if !ok {
		badRequest(w, "invalid page")
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		badRequest(w, "invalid limit")
		return
	}

	credits, err := h.service.FetchHistory(r.Context(), page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, credits)
}

type spendRequest struct {
	Amount int64 `json:"amount"`
}

// SpendLocally оптимистично списывает кредиты.
func (h *Handler) SpendLocally(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	credits, err := h.service.SpendLocally(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, credits)
}

// DeleteCharacter удаляет персонажа. Если персонаж используется в книгах,
// отвечает 409 со списком книг; повторный запрос с force=true удаляет его.
func (h *Handler) DeleteCharacter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid character id")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := h.service.DeleteCharacter(r.Context(), id, force); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetPrint возвращает состояние мастера заказа.
func (h *Handler) GetPrint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newPrintResponse(h.service.PrintSnapshot()))
}

type startPrintRequest struct {
	BookID int64 `json:"bookId"`
}

// StartPrint начинает оформление заказа для книги.
func (h *Handler) StartPrint(w http.ResponseWriter, r *http.Request) {
	var req startPrintRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.BookID <= 0 {
		badRequest(w, "invalid book id")
		return
	}

	writeJSON(w, http.StatusOK, newPrintResponse(h.service.StartPrintOrder(req.BookID)))
}

type stepRequest struct {
	Step printorder.Step `json:"step"`
}

// SetPrintStep переключает шаг мастера.
func (h *Handler) SetPrintStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	state, err := h.service.SetPrintStep(req.Step)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newPrintResponse(state))
}

// LoadShippingOptions загружает способы доставки для страны из параметра country.
func (h *Handler) LoadShippingOptions(w http.ResponseWriter, r *http.Request) {
	quantity, ok := queryInt(r, "quantity", 1)
	if !ok {
		badRequest(w, "invalid quantity")
		return
	}

	state, err := h.service.LoadShippingOptions(r.Context(), r.URL.Query().Get("country"), quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newPrintResponse(state))
}

type quoteRequest struct {
	ShippingMethod string `json:"shippingMethod"`
	Quantity       int    `json:"quantity"`
}

// RecalculateQuote пересчитывает стоимость заказа.
func (h *Handler) RecalculateQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	state, err := h.service.RecalculateQuote(r.Context(), req.ShippingMethod, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newPrintResponse(state))
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
