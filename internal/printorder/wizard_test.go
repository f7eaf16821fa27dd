package printorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mmeshcher/storybook-companion/internal/api"
	"github.com/mmeshcher/storybook-companion/internal/model"
	"github.com/mmeshcher/storybook-companion/internal/validation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type pendingCost struct {
	req    api.CostRequest
	result chan *model.CostBreakdown
}

type stubFulfillment struct {
	mu       sync.Mutex
	options  []model.ShippingOption
	costs    chan pendingCost
	costErr  error
	requests []api.CostRequest
}

func newStubFulfillment() *stubFulfillment {
	return &stubFulfillment{
		options: []model.ShippingOption{
			{Method: "STANDARD", Name: "Standard", MinDays: 5, MaxDays: 9, EstimatedCost: 4.5},
			{Method: "EXPRESS", Name: "Express", MinDays: 1, MaxDays: 3, EstimatedCost: 12},
		},
	}
}

func (s *stubFulfillment) ShippingOptions(_ context.Context, _ int64, _ string, _ int) ([]model.ShippingOption, error) {
	return s.options, nil
}

func (s *stubFulfillment) CalculateCost(ctx context.Context, req api.CostRequest) (*model.CostBreakdown, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	costErr := s.costErr
	s.mu.Unlock()

	if costErr != nil {
		return nil, costErr
	}

	if s.costs == nil {
		return breakdownFor(req), nil
	}

	p := pendingCost{req: req, result: make(chan *model.CostBreakdown, 1)}
	select {
	case s.costs <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case b := <-p.result:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func breakdownFor(req api.CostRequest) *model.CostBreakdown {
	q := float64(req.Quantity)
	return &model.CostBreakdown{
		LineItems:    []model.CostItem{{TotalCostInclTax: 8 * q}},
		Fulfillment:  model.CostItem{TotalCostInclTax: 2},
		Shipping:     model.CostItem{TotalCostInclTax: 5},
		TotalCostGBP: 8*q + 7,
	}
}

func wizardOnMethodStep(t *testing.T, stub *stubFulfillment) *Wizard {
	t.Helper()

	w := NewWizard(stub, Rates{GBPToUSD: 1.25, GBPToEUR: 1.2}, nil)
	w.Start(42)
	_, err := w.LoadShippingOptions(context.Background(), "GB", 1)
	require.NoError(t, err)
	require.Equal(t, StepMethod, w.Snapshot().Step)
	return w
}

type quoteResult struct {
	quote *Quote
	err   error
}

func recalcAsync(w *Wizard, method string, quantity int) <-chan quoteResult {
	out := make(chan quoteResult, 1)
	go func() {
		q, err := w.Recalculate(context.Background(), method, quantity)
		out <- quoteResult{quote: q, err: err}
	}()
	return out
}

func TestWizard_RequiresBook(t *testing.T) {
	w := NewWizard(newStubFulfillment(), Rates{}, nil)

	assert.ErrorIs(t, w.SetStep(StepMethod), ErrNoBook)
	_, err := w.LoadShippingOptions(context.Background(), "GB", 1)
	assert.ErrorIs(t, err, ErrNoBook)
	_, err = w.Recalculate(context.Background(), "STANDARD", 1)
	assert.ErrorIs(t, err, ErrNoBook)
}

func TestWizard_LoadShippingOptions(t *testing.T) {
	stub := newStubFulfillment()
	w := NewWizard(stub, Rates{}, nil)
	w.Start(7)

	_, err := w.LoadShippingOptions(context.Background(), "gbr", 1)
	var fe validation.FieldErrors
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe, "countryCode")
	assert.Equal(t, StepAddress, w.Snapshot().Step)

	options, err := w.LoadShippingOptions(context.Background(), "US", 0)
	require.NoError(t, err)
	assert.Len(t, options, 2)

	state := w.Snapshot()
	assert.Equal(t, StepMethod, state.Step)
	assert.Equal(t, "US", state.Country)
	assert.Equal(t, 1, state.Quantity)
	assert.Len(t, state.ShippingOptions, 2)
}

func TestWizard_RecalculateAppliesQuote(t *testing.T) {
	w := wizardOnMethodStep(t, newStubFulfillment())

	q, err := w.Recalculate(context.Background(), "STANDARD", 2)
	require.NoError(t, err)
	assert.Equal(t, CurrencyGBP, q.Display.Currency)
	assert.InDelta(t, 23, q.Display.Total, 1e-9)
	assert.InDelta(t, q.Display.Total, q.Display.Split.Total(), 1e-9)

	state := w.Snapshot()
	require.NotNil(t, state.Quote)
	assert.Equal(t, 2, state.Quantity)
	assert.False(t, state.Calculating)
}

func TestWizard_RecalculateValidates(t *testing.T) {
	w := wizardOnMethodStep(t, newStubFulfillment())

	_, err := w.Recalculate(context.Background(), "", 500)
	var fe validation.FieldErrors
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe, "shippingMethod")
	assert.Contains(t, fe, "quantity")
}

func TestWizard_RecalculateOnlyOnMethodStep(t *testing.T) {
	w := NewWizard(newStubFulfillment(), Rates{}, nil)
	w.Start(1)

	_, err := w.Recalculate(context.Background(), "STANDARD", 1)
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestWizard_QuoteDiscardedAfterStepChange(t *testing.T) {
	stub := newStubFulfillment()
	w := wizardOnMethodStep(t, stub)
	stub.costs = make(chan pendingCost)

	done := recalcAsync(w, "STANDARD", 1)
	pending := <-stub.costs
	assert.True(t, w.Snapshot().Calculating)

	require.NoError(t, w.SetStep(StepAddress))
	pending.result <- breakdownFor(pending.req)

	res := <-done
	assert.ErrorIs(t, res.err, ErrStepChanged)
	assert.Nil(t, res.quote)

	state := w.Snapshot()
	assert.Equal(t, StepAddress, state.Step)
	assert.Nil(t, state.Quote)
	assert.False(t, state.Calculating)
}

func TestWizard_SupersededQuoteDiscarded(t *testing.T) {
	stub := newStubFulfillment()
	w := wizardOnMethodStep(t, stub)
	stub.costs = make(chan pendingCost)

	first := recalcAsync(w, "STANDARD", 1)
	firstPending := <-stub.costs

	second := recalcAsync(w, "EXPRESS", 3)
	secondPending := <-stub.costs

	secondPending.result <- breakdownFor(secondPending.req)
	res := <-second
	require.NoError(t, res.err)

	firstPending.result <- breakdownFor(firstPending.req)
	res = <-first
	assert.ErrorIs(t, res.err, ErrStaleQuote)

	state := w.Snapshot()
	require.NotNil(t, state.Quote)
	assert.Equal(t, "EXPRESS", state.Quote.Request.ShippingMethod)
	assert.Equal(t, 3, state.Quantity)
}

func TestWizard_LeavingMethodStepDiscardsQuote(t *testing.T) {
	w := wizardOnMethodStep(t, newStubFulfillment())

	_, err := w.Recalculate(context.Background(), "STANDARD", 1)
	require.NoError(t, err)

	require.NoError(t, w.SetStep(StepAddress))
	assert.Nil(t, w.Snapshot().Quote)
}

func TestWizard_ReviewKeepsQuote(t *testing.T) {
	w := wizardOnMethodStep(t, newStubFulfillment())

	err := w.SetStep(StepReview)
	assert.ErrorIs(t, err, ErrWrongStep)
	assert.Equal(t, StepMethod, w.Snapshot().Step)

	q, err := w.Recalculate(context.Background(), "STANDARD", 1)
	require.NoError(t, err)

	require.NoError(t, w.SetStep(StepReview))
	state := w.Snapshot()
	require.NotNil(t, state.Quote)
	assert.Equal(t, q.Display, state.Quote.Display)

	_, err = w.Recalculate(context.Background(), "EXPRESS", 1)
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestWizard_CountryChangeInvalidatesQuote(t *testing.T) {
	w := wizardOnMethodStep(t, newStubFulfillment())

	_, err := w.Recalculate(context.Background(), "STANDARD", 1)
	require.NoError(t, err)

	_, err = w.LoadShippingOptions(context.Background(), "DE", 1)
	require.NoError(t, err)
	assert.Nil(t, w.Snapshot().Quote)

	q, err := w.Recalculate(context.Background(), "STANDARD", 1)
	require.NoError(t, err)
	assert.Equal(t, CurrencyEUR, q.Display.Currency)
}

func TestWizard_QuantityChangeInvalidatesQuote(t *testing.T) {
	w := wizardOnMethodStep(t, newStubFulfillment())

	_, err := w.Recalculate(context.Background(), "STANDARD", 1)
	require.NoError(t, err)

	_, err = w.LoadShippingOptions(context.Background(), "GB", 5)
	require.NoError(t, err)

	state := w.Snapshot()
	assert.Equal(t, 5, state.Quantity)
	assert.Nil(t, state.Quote)

	q, err := w.Recalculate(context.Background(), "STANDARD", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, q.Request.Quantity)
	assert.InDelta(t, 47.0, q.Display.Total, 1e-9)
}

func TestWizard_InFlightQuoteDroppedOnQuantityChange(t *testing.T) {
	stub := newStubFulfillment()
	w := wizardOnMethodStep(t, stub)
	stub.costs = make(chan pendingCost)

	done := recalcAsync(w, "STANDARD", 1)
	pending := <-stub.costs

	_, err := w.LoadShippingOptions(context.Background(), "GB", 5)
	require.NoError(t, err)

	pending.result <- breakdownFor(pending.req)
	res := <-done
	assert.ErrorIs(t, res.err, ErrStaleQuote)

	state := w.Snapshot()
	assert.Equal(t, 5, state.Quantity)
	assert.Nil(t, state.Quote)
	assert.False(t, state.Calculating)
}

func TestWizard_SameCountryAndQuantityKeepsQuote(t *testing.T) {
	w := wizardOnMethodStep(t, newStubFulfillment())

	_, err := w.Recalculate(context.Background(), "STANDARD", 1)
	require.NoError(t, err)

	_, err = w.LoadShippingOptions(context.Background(), "GB", 1)
	require.NoError(t, err)
	assert.NotNil(t, w.Snapshot().Quote)
}

func TestWizard_RecalculateError(t *testing.T) {
	stub := newStubFulfillment()
	w := wizardOnMethodStep(t, stub)
	stub.costErr = errors.New("fulfillment down")

	_, err := w.Recalculate(context.Background(), "STANDARD", 1)
	require.Error(t, err)
	assert.False(t, w.Snapshot().Calculating)
	assert.Nil(t, w.Snapshot().Quote)
}

func TestWizard_RecalculateHonorsContext(t *testing.T) {
	stub := newStubFulfillment()
	w := wizardOnMethodStep(t, stub)
	stub.costs = make(chan pendingCost)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Recalculate(ctx, "STANDARD", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, w.Snapshot().Calculating)
}

func TestWizard_UnknownStep(t *testing.T) {
	w := NewWizard(newStubFulfillment(), Rates{}, nil)
	w.Start(1)
	assert.ErrorIs(t, w.SetStep(Step("payment")), ErrUnknownStep)
}
