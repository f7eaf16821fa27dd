package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestLogin_OK(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if creds.Email != "a@b.com" || creds.Password != "secret" {
			t.Fatalf("unexpected credentials: %+v", creds)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Fatalf("missing X-Request-ID")
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"user":  map[string]any{"id": 1, "email": "a@b.com", "creditsBalance": 100},
				"token": "tok",
			},
		})
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.Login(ctx, Credentials{Email: "a@b.com", Password: "secret"})
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if res.User == nil || res.User.ID != 1 || res.User.CreditsBalance != 100 {
		t.Fatalf("unexpected user: %+v", res.User)
	}
	if res.Token != "tok" {
		t.Fatalf("token = %q, want tok", res.Token)
	}
}

func TestProfile_OK(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/user/profile", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("Authorization = %q", got)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"user": map[string]any{"id": 7, "email": "a@b.com", "name": "Ann"},
			},
		})
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	client := NewClient(ts.URL, WithTokenSource(func() string { return "tok" }))

	user, err := client.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if user == nil || user.ID != 7 || user.Name != "Ann" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestDo_SendsBearerToken(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer abc" {
			t.Fatalf("Authorization = %q", got)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"user": map[string]any{"id": 5}},
		})
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	client := NewClient(ts.URL, WithTokenSource(func() string { return "abc" }))

	u, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me error: %v", err)
	}
	if u.ID != 5 {
		t.Fatalf("user id = %d, want 5", u.ID)
	}
}

func TestDo_ErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
			"message": "validation failed",
			"code":    "VALIDATION",
			"errors":  map[string]string{"email": "invalid"},
		})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Register(context.Background(), Registration{Email: "x"})

	apiErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "VALIDATION" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.Fields["email"] != "invalid" {
		t.Fatalf("fields = %v", apiErr.Fields)
	}
	if IsUnauthorized(err) || IsTransport(err) {
		t.Fatalf("validation error misclassified")
	}
}

func TestDo_Unauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Me(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	apiErr, _ := AsError(err)
	if apiErr.Message != "Unauthorized" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestDo_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	_, err := NewClient(ts.URL).Balance(context.Background())
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestDo_NotConfigured(t *testing.T) {
	_, err := NewClient("").Balance(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDeleteCharacter_ConfirmationRequired(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/characters/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("force") == "true" {
			writeJSON(t, w, http.StatusOK, map[string]any{"success": true})
			return
		}
		writeJSON(t, w, http.StatusConflict, map[string]any{
			"message":              "character is used in books",
			"code":                 "CHARACTER_IN_USE",
			"requiresConfirmation": true,
			"data":                 map[string]any{"books": []map[string]any{{"id": 9, "title": "Moon"}}},
		})
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	client := NewClient(ts.URL)

	err := client.DeleteCharacter(context.Background(), 3, false)
	if !IsConfirmationRequired(err) {
		t.Fatalf("expected confirmation required, got %v", err)
	}
	apiErr, _ := AsError(err)
	books := apiErr.ReferencingBooks()
	if len(books) != 1 || books[0].ID != 9 || books[0].Title != "Moon" {
		t.Fatalf("unexpected books: %+v", books)
	}

	if err := client.DeleteCharacter(context.Background(), 3, true); err != nil {
		t.Fatalf("forced delete error: %v", err)
	}
}

func TestVerifyPurchase_EscapesSessionID(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/credits/verify", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("session_id"); got != "cs_1&x" {
			t.Fatalf("session_id = %q", got)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"newBalance":  250,
				"transaction": map[string]any{"id": "tx1", "amount": 150, "type": "purchase"},
			},
		})
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	res, err := NewClient(ts.URL).VerifyPurchase(context.Background(), "cs_1&x")
	if err != nil {
		t.Fatalf("VerifyPurchase error: %v", err)
	}
	if res.NewBalance != 250 || res.Transaction == nil || res.Transaction.Amount != 150 {
		t.Fatalf("unexpected verification: %+v", res)
	}
}

func TestCalculateCost_OK(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/print-orders/calculate-cost", func(w http.ResponseWriter, r *http.Request) {
		var req CostRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Quantity != 2 || req.ShippingMethod != "EXPRESS" {
			t.Fatalf("unexpected request: %+v", req)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"line_items":     []map[string]any{{"total_cost_incl_tax": 10}, {"total_cost_incl_tax": 5}},
				"fulfillment":    map[string]any{"total_cost_incl_tax": 2},
				"shipping":       map[string]any{"total_cost_incl_tax": 3},
				"total_cost_gbp": 21.5,
			},
		})
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	b, err := NewClient(ts.URL).CalculateCost(context.Background(), CostRequest{BookID: 1, Quantity: 2, ShippingMethod: "EXPRESS", CountryCode: "GB"})
	if err != nil {
		t.Fatalf("CalculateCost error: %v", err)
	}
	if b.LineItemsCost() != 15 || b.Fulfillment.TotalCostInclTax != 2 || b.TotalCostGBP != 21.5 {
		t.Fatalf("unexpected breakdown: %+v", b)
	}
}

func TestRateLimit_RespectsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"balance": 1}})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, WithRateLimit(0.001))

	if _, err := client.Balance(context.Background()); err != nil {
		t.Fatalf("first call error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Balance(ctx); err == nil {
		t.Fatalf("expected rate limit error for second call")
	}
}
