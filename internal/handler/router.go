package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/storybook-companion/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware локального API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/check", h.CheckSession)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Post("/register", h.Register)
			r.Post("/verify-email", h.VerifyEmail)
			r.Post("/resend-verification", h.ResendVerification)
		})

		r.Route("/profile", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Put("/", h.UpdateProfile)
			r.Post("/password", h.ChangePassword)
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", h.GetCredits)
			r.Post("/refresh", h.RefreshBalance)
			r.Post("/purchase", h.CreatePurchaseSession)
			r.Post("/verify", h.VerifyPurchase)
			r.Get("/history", h.GetHistory)
			r.Post("/spend", h.SpendLocally)
		})

		r.Delete("/characters/{id}", h.DeleteCharacter)

		r.Route("/print", func(r chi.Router) {
			r.Get("/", h.GetPrint)
			r.Post("/start", h.StartPrint)
			r.Post("/step", h.SetPrintStep)
			r.Get("/shipping-options", h.LoadShippingOptions)
			r.Post("/quote", h.RecalculateQuote)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "METHOD_NOT_ALLOWED", Message: http.StatusText(http.StatusMethodNotAllowed)})
	})

	return r
}
