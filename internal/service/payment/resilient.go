package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrCircuitOpen возвращается, пока цепь разомкнута после серии сбоев.
var ErrCircuitOpen = errors.New("payment circuit breaker is open")

// RetryConfig конфигурация повторов платёжного вызова.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ResilientService повторяет Pay при ошибках шлюза и размыкает цепь после серии сбоев.
// Отказ со статусом (платёж отклонён) считается окончательным и не повторяется.
type ResilientService struct {
	next    domain.PaymentService
	retry   RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResilientService оборачивает платёжный сервис. breaker может быть nil.
func NewResilientService(next domain.PaymentService, retry RetryConfig, breaker *CircuitBreaker, logger *log.Entry) *ResilientService {
	if logger == nil {
		logger = log.New().WithField("component", "payment-resilient")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffFactor < 1 {
		retry.BackoffFactor = 1
	}
	return &ResilientService{
		next:    next,
		retry:   retry,
		breaker: breaker,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// sleepContext ждёт d или отмены ctx.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pay проводит оплату через circuit breaker с повторами. Отмена ctx прерывает
// ожидание между попытками.
func (s *ResilientService) Pay(ctx context.Context, orderID string, amount decimal.Decimal) (domain.PaymentStatus, error) {
	if s.breaker == nil {
		return s.payWithRetry(ctx, orderID, amount)
	}

	var status domain.PaymentStatus
	err := s.breaker.Execute("Pay", func() error {
		var payErr error
		status, payErr = s.payWithRetry(ctx, orderID, amount)
		return payErr
	})
	return status, err
}

func (s *ResilientService) payWithRetry(ctx context.Context, orderID string, amount decimal.Decimal) (domain.PaymentStatus, error) {
	var lastErr error
	delay := s.retry.InitialDelay

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		status, err := s.next.Pay(ctx, orderID, amount)
		if err == nil {
			if attempt > 1 {
				s.logger.WithFields(log.Fields{
					"order_id": orderID,
					"attempt":  attempt,
				}).Info("payment succeeded after retry")
			}
			return status, nil
		}
		lastErr = err

		if attempt < s.retry.MaxAttempts {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt,
				"delay":    delay,
			}).Warn("payment failed, retrying")
			if err := s.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("payment retry interrupted after %d attempts: %w", attempt, err)
			}

			delay = time.Duration(float64(delay) * s.retry.BackoffFactor)
			if s.retry.MaxDelay > 0 && delay > s.retry.MaxDelay {
				delay = s.retry.MaxDelay
			}
		}
	}

	s.logger.WithError(lastErr).WithFields(log.Fields{
		"order_id":     orderID,
		"max_attempts": s.retry.MaxAttempts,
	}).Error("payment failed after all retry attempts")
	return "", lastErr
}

// CircuitState описывает состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker размыкается после maxFailures подряд и пропускает пробный вызов через resetTimeout.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        CircuitState
	now          func() time.Time
	logger       *log.Entry
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		now:          time.Now,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
	return nil
}

var _ domain.PaymentService = (*ResilientService)(nil)
