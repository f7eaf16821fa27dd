// Package credits хранит кредитный баланс пользователя и согласует его с сервером.
//
// Баланс хранится в одном месте. Сессия показывает его как проекцию, поэтому два
// представления баланса не могут разойтись. Каждая запись баланса от сервера
// помечается номером запроса, и ответ на более старый запрос отбрасывается.
package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/storybook-companion/internal/api"
	"github.com/mmeshcher/storybook-companion/internal/model"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

var (
	// ErrStaleResponse возвращается, если ответ сервера относится к запросу старше уже применённого.
	ErrStaleResponse = errors.New("stale balance response dropped")
	// ErrInvalidAmount возвращается при неположительной сумме списания.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrMissingPackage возвращается, если не указан пакет кредитов.
	ErrMissingPackage = errors.New("credit package is required")
	// ErrMissingSession возвращается, если не указан идентификатор платёжной сессии.
	ErrMissingSession = errors.New("payment session id is required")
)

// API описывает методы API кредитов, используемые реестром.
type API interface {
	CreatePurchaseSession(ctx context.Context, packageID string) (*api.PurchaseSession, error)
	VerifyPurchase(ctx context.Context, sessionID string) (*api.PurchaseVerification, error)
	Balance(ctx context.Context) (int64, error)
	History(ctx context.Context, page, limit int) (*api.HistoryPage, error)
}

// Ledger хранит кредитный баланс и является его единственным источником.
type Ledger struct {
	api    API
	logger *zap.Logger

	mu            sync.RWMutex
	serverBalance int64
	pending       int64
	known         bool
	issued        uint64
	applied       uint64
	generation    uint64
	transactions  []model.Transaction
	pagination    model.Pagination
	listener      func(int64)

	refresh singleflight.Group
}

// NewLedger создаёт реестр поверх API кредитов.
func NewLedger(a API, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{api: a, logger: logger}
}

// SetBalanceListener задаёт функцию, которая вызывается после каждой принятой записи
// баланса от сервера. Локальные изменения её не вызывают.
func (l *Ledger) SetBalanceListener(fn func(int64)) {
	l.mu.Lock()
	l.listener = fn
	l.mu.Unlock()
}

// NextTicket выдаёт номер для запроса, ответ на который изменит баланс.
// Номер нужно получить до отправки запроса.
func (l *Ledger) NextTicket() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued++
	return l.issued
}

// ApplyServerBalance записывает баланс, полученный от сервера. Запись перезаписывает
// баланс вместе со всеми локальными изменениями. Ответ на запрос старше последнего
// применённого отбрасывается с ErrStaleResponse.
func (l *Ledger) ApplyServerBalance(ticket uint64, balance int64) error {
	l.mu.Lock()
	if ticket <= l.applied {
		l.mu.Unlock()
		l.logger.Info("dropping stale balance", zap.Uint64("ticket", ticket), zap.Int64("balance", balance))
		return ErrStaleResponse
	}
	l.applied = ticket
	l.serverBalance = balance
	l.pending = 0
	l.known = true
	listener := l.listener
	l.mu.Unlock()

	if listener != nil {
		listener(balance)
	}
	return nil
}

// ApplyLocalDelta оптимистично меняет баланс до ответа сервера.
// Изменение живёт до следующей записи от сервера и не сохраняется в кэш.
func (l *Ledger) ApplyLocalDelta(delta int64) {
	l.mu.Lock()
	l.pending += delta
	l.mu.Unlock()
}

// Balance возвращает текущий баланс и признак того, что он известен.
func (l *Ledger) Balance() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.serverBalance + l.pending, l.known
}

// Reset забывает баланс и историю. Ответы на запросы, отправленные до сброса, будут отброшены.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.serverBalance = 0
	l.pending = 0
	l.known = false
	l.applied = l.issued
	l.generation++
	l.transactions = nil
	l.pagination = model.Pagination{}
	l.mu.Unlock()
}

// Snapshot возвращает копию состояния реестра.
func (l *Ledger) Snapshot() model.Credits {
	l.mu.RLock()
	defer l.mu.RUnlock()

	txs := make([]model.Transaction, len(l.transactions))
	copy(txs, l.transactions)

	return model.Credits{
		Balance:      l.serverBalance + l.pending,
		Known:        l.known,
		Pending:      l.pending,
		Transactions: txs,
		Pagination:   l.pagination,
	}
}

// CreatePurchaseSession создаёт платёжную сессию и возвращает адрес для перехода.
func (l *Ledger) CreatePurchaseSession(ctx context.Context, packageID string) (*api.PurchaseSession, error) {
	if packageID == "" {
		return nil, ErrMissingPackage
	}
	ps, err := l.api.CreatePurchaseSession(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("create purchase session: %w", err)
	}
	return ps, nil
}

// VerifyPurchase проверяет оплату, записывает новый баланс и добавляет операцию в начало истории.
func (l *Ledger) VerifyPurchase(ctx context.Context, sessionID string) (*api.PurchaseVerification, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	ticket := l.NextTicket()
	l.mu.RLock()
	gen := l.generation
	l.mu.RUnlock()

	res, err := l.api.VerifyPurchase(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("verify purchase: %w", err)
	}

	if err := l.ApplyServerBalance(ticket, res.NewBalance); err != nil && !errors.Is(err, ErrStaleResponse) {
		return nil, err
	}

	if res.Transaction != nil {
		l.prepend(gen, *res.Transaction)
	}

	return res, nil
}

func (l *Ledger) prepend(gen uint64, tx model.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation {
		return
	}

	for _, existing := range l.transactions {
		if tx.ID != "" && existing.ID == tx.ID {
			return
		}
	}

	l.transactions = append([]model.Transaction{tx}, l.transactions...)
	if l.pagination.Total > 0 {
		l.pagination.Total++
	}
}

// RefreshBalance запрашивает баланс у сервера. Одновременные вызовы объединяются в один запрос.
// Отмена контекста одного вызывающего не прерывает общий запрос остальных.
func (l *Ledger) RefreshBalance(ctx context.Context) (int64, error) {
	shared := context.WithoutCancel(ctx)
	ch := l.refresh.DoChan("balance", func() (any, error) {
		ticket := l.NextTicket()

		balance, err := l.api.Balance(shared)
		if err != nil {
			return nil, fmt.Errorf("fetch balance: %w", err)
		}

		if err := l.ApplyServerBalance(ticket, balance); err != nil && !errors.Is(err, ErrStaleResponse) {
			return nil, err
		}
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	balance, _ := l.Balance()
	return balance, nil
}

// SpendLocally оптимистично списывает кредиты, пока сервер не сообщил новый баланс.
func (l *Ledger) SpendLocally(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.ApplyLocalDelta(-amount)
	return nil
}

// FetchHistory загружает страницу истории. Первая страница заменяет список, следующие дополняют его.
func (l *Ledger) FetchHistory(ctx context.Context, page, limit int) (model.Credits, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	l.mu.RLock()
	gen := l.generation
	l.mu.RUnlock()

	res, err := l.api.History(ctx, page, limit)
	if err != nil {
		return model.Credits{}, fmt.Errorf("fetch history: %w", err)
	}

	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return l.Snapshot(), ErrStaleResponse
	}

	if page == 1 {
		l.transactions = append([]model.Transaction(nil), res.Transactions...)
	} else {
		seen := make(map[string]struct{}, len(l.transactions))
		for _, tx := range l.transactions {
			seen[tx.ID] = struct{}{}
		}
		for _, tx := range res.Transactions {
			if _, ok := seen[tx.ID]; ok && tx.ID != "" {
				continue
			}
			l.transactions = append(l.transactions, tx)
		}
	}

	l.pagination = res.Pagination
	l.pagination.Page = page
	l.pagination.Limit = limit
	if res.Pagination.Total == 0 && !res.Pagination.HasMore {
		l.pagination.HasMore = len(res.Transactions) == limit
	}
	l.mu.Unlock()

	return l.Snapshot(), nil
}
