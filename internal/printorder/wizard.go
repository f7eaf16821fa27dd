package printorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/storybook-companion/internal/api"
	"github.com/mmeshcher/storybook-companion/internal/model"
	"github.com/mmeshcher/storybook-companion/internal/validation"
)

// Step обозначает шаг мастера оформления печатного заказа.
type Step string

const (
	StepAddress   Step = "address"
	StepMethod    Step = "method"
	StepReview    Step = "review"
	StepSubmitted Step = "submitted"
)

var (
	// ErrNoBook возвращается, если мастер не запущен для книги.
	ErrNoBook = errors.New("print order has no book")
	// ErrUnknownStep возвращается для неизвестного шага.
	ErrUnknownStep = errors.New("unknown wizard step")
	// ErrWrongStep возвращается, если операция недоступна на текущем шаге.
	ErrWrongStep = errors.New("operation is not available on current step")
	// ErrStepChanged возвращается, если пользователь ушёл с шага, пока запрос выполнялся.
	ErrStepChanged = errors.New("wizard step changed while request was in flight")
	// ErrStaleQuote возвращается, если после запроса был отправлен более новый.
	ErrStaleQuote = errors.New("newer quote requested")
)

// API описывает методы API фулфилмента, используемые мастером.
type API interface {
	ShippingOptions(ctx context.Context, bookID int64, country string, quantity int) ([]model.ShippingOption, error)
	CalculateCost(ctx context.Context, req api.CostRequest) (*model.CostBreakdown, error)
}

// Quote содержит рассчитанную стоимость для выбранного способа доставки.
type Quote struct {
	Request   api.CostRequest     `json:"request"`
	Breakdown model.CostBreakdown `json:"breakdown"`
	Display   DisplayCost         `json:"display"`
}

// State описывает снимок мастера для слоя представления.
type State struct {
	BookID          int64                  `json:"bookId"`
	Step            Step                   `json:"step"`
	Country         string                 `json:"country"`
	Quantity        int                    `json:"quantity"`
	ShippingOptions []model.ShippingOption `json:"shippingOptions"`
	Quote           *Quote                 `json:"quote"`
	Calculating     bool                   `json:"calculating"`
}

// Wizard хранит состояние оформления заказа. Результаты запросов применяются,
// только если мастер всё ещё на шаге, который их запросил, и более новых запросов не было.
type Wizard struct {
	api    API
	rates  Rates
	logger *zap.Logger

	mu         sync.Mutex
	bookID     int64
	step       Step
	generation uint64
	quoteSeq   uint64
	inFlight   int
	country    string
	quantity   int
	options    []model.ShippingOption
	quote      *Quote
}

// NewWizard создаёт мастер оформления заказа.
func NewWizard(a API, rates Rates, logger *zap.Logger) *Wizard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wizard{api: a, rates: rates, logger: logger, step: StepAddress, quantity: 1}
}

// Start начинает оформление заказа для книги.
func (w *Wizard) Start(bookID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.bookID = bookID
	w.step = StepAddress
	w.generation++
	w.country = ""
	w.quantity = 1
	w.options = nil
	w.quote = nil
}

// SetStep переключает шаг. Уход с шага выбора доставки сбрасывает расчёт стоимости.
func (w *Wizard) SetStep(step Step) error {
	switch step {
	case StepAddress, StepMethod, StepReview, StepSubmitted:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.bookID == 0 {
		return ErrNoBook
	}
	if step == w.step {
		return nil
	}

	if w.step == StepMethod && step != StepReview {
		w.quote = nil
	}
	if w.step == StepMethod && step == StepReview && w.quote == nil {
		return fmt.Errorf("%w: no quote to review", ErrWrongStep)
	}

	w.step = step
	w.generation++
	return nil
}

// LoadShippingOptions загружает способы доставки для страны и переводит мастер на шаг выбора доставки.
func (w *Wizard) LoadShippingOptions(ctx context.Context, country string, quantity int) ([]model.ShippingOption, error) {
	if !validation.IsValidCountryCode(country) {
		return nil, validation.FieldErrors{"countryCode": "invalid country code"}
	}
	if quantity < 1 {
		quantity = 1
	}

	w.mu.Lock()
	if w.bookID == 0 {
		w.mu.Unlock()
		return nil, ErrNoBook
	}
	if w.step != StepAddress && w.step != StepMethod {
		w.mu.Unlock()
		return nil, ErrWrongStep
	}
	bookID, gen := w.bookID, w.generation
	w.mu.Unlock()

	options, err := w.api.ShippingOptions(ctx, bookID, country, quantity)
	if err != nil {
		return nil, fmt.Errorf("load shipping options: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation {
		return nil, ErrStepChanged
	}

	if w.country != country || w.quantity != quantity {
		w.quote = nil
		w.quoteSeq++
	}
	w.country = country
	w.quantity = quantity
	w.options = options
	if w.step == StepAddress {
		w.step = StepMethod
		w.generation++
	}

	return options, nil
}

// Recalculate запрашивает стоимость для способа доставки и количества.
// Ответ применяется, только если мастер всё ещё на шаге выбора доставки
// и это последний отправленный запрос.
func (w *Wizard) Recalculate(ctx context.Context, method string, quantity int) (*Quote, error) {
	w.mu.Lock()
	if w.bookID == 0 {
		w.mu.Unlock()
		return nil, ErrNoBook
	}
	if w.step != StepMethod {
		w.mu.Unlock()
		return nil, ErrWrongStep
	}
	if err := validation.Quote(method, quantity, w.country); err != nil {
		w.mu.Unlock()
		return nil, err
	}

	w.quoteSeq++
	seq, gen := w.quoteSeq, w.generation
	req := api.CostRequest{
		BookID:         w.bookID,
		Quantity:       quantity,
		ShippingMethod: method,
		CountryCode:    w.country,
	}
	w.inFlight++
	w.mu.Unlock()

	breakdown, err := w.api.CalculateCost(ctx, req)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight--

	if err != nil {
		return nil, fmt.Errorf("calculate cost: %w", err)
	}

	if gen != w.generation {
		w.logger.Debug("discarding quote for abandoned step", zap.Uint64("seq", seq))
		return nil, ErrStepChanged
	}
	if seq != w.quoteSeq {
		w.logger.Debug("discarding superseded quote", zap.Uint64("seq", seq), zap.Uint64("latest", w.quoteSeq))
		return nil, ErrStaleQuote
	}

	q := &Quote{
		Request:   req,
		Breakdown: *breakdown,
		Display:   Display(*breakdown, req.CountryCode, w.rates),
	}
	w.quote = q
	w.quantity = quantity

	return q, nil
}

// Snapshot возвращает копию состояния мастера.
func (w *Wizard) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	options := make([]model.ShippingOption, len(w.options))
	copy(options, w.options)

	var quote *Quote
	if w.quote != nil {
		q := *w.quote
		quote = &q
	}

	return State{
		BookID:          w.bookID,
		Step:            w.step,
		Country:         w.country,
		Quantity:        w.quantity,
		ShippingOptions: options,
		Quote:           quote,
		Calculating:     w.inFlight > 0,
	}
}
