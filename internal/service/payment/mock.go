package payment

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SimulatedService подтверждает любой платёж: витрина не проводит реальных списаний,
// оплата считается принятой, как только форма доставки прошла проверку.
type SimulatedService struct {
	logger *log.Entry
}

// NewSimulatedService создаёт симулированный платёжный шаг.
func NewSimulatedService(logger *log.Entry) *SimulatedService {
	if logger == nil {
		logger = log.New().WithField("component", "payment")
	}
	return &SimulatedService{logger: logger}
}

// Pay возвращает PaymentStatusCaptured, если ctx ещё не отменён.
func (s *SimulatedService) Pay(ctx context.Context, orderID string, amount decimal.Decimal) (domain.PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"amount":   amount.StringFixed(2),
	}).Debug("simulated payment captured")
	return domain.PaymentStatusCaptured, nil
}

// MockService используется в тестах как конфигурируемый PaymentService.
type MockService struct {
	mu sync.Mutex

	PayStatus domain.PaymentStatus
	PayErr    error

	PayCalls   int
	LastOrder  string
	LastAmount decimal.Decimal
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{PayStatus: domain.PaymentStatusCaptured}
}

// Pay возвращает заранее настроенный результат и запоминает аргументы.
func (m *MockService) Pay(_ context.Context, orderID string, amount decimal.Decimal) (domain.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PayCalls++
	m.LastOrder = orderID
	m.LastAmount = amount
	return m.PayStatus, m.PayErr
}

// Calls возвращает количество вызовов Pay.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PayCalls
}

var (
	_ domain.PaymentService = (*SimulatedService)(nil)
	_ domain.PaymentService = (*MockService)(nil)
)
