package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL ограничивает хранение ответа под Idempotency-Key.
const DefaultTTL = 24 * time.Hour

// Outcome хранит ответ транспорта под ключом.
type Outcome struct {
	StatusCode int
	Body       []byte
	// Failed: запрос завершился ошибкой, повтор вернёт ту же ошибку.
	Failed bool
	// Release освобождает ключ, если ошибку исправляет клиент (форма, пустая корзина).
	Release bool
}

// Guard защищает оформление заказа от двойной отправки: первый запрос
// выполняется, повторы с тем же ключом и телом получают сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{repo: repo, ttl: ttl, logger: logger, now: time.Now}
}

// Do выполняет run не более одного раза для пары (key, requestHash).
// replayed=true означает, что Outcome взят из хранилища.
// Ошибки: ErrIdempotencyHashMismatch (ключ занят другим запросом),
// ErrIdempotencyInProgress (первый запрос ещё выполняется) и ошибки репозитория.
func (g *Guard) Do(key, requestHash string, run func() Outcome) (outcome Outcome, replayed bool, err error) {
	record, err := g.repo.CreateProcessing(key, requestHash, g.now().UTC().Add(g.ttl))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return Outcome{}, false, err
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			if !record.Finished() {
				return Outcome{}, false, domain.ErrIdempotencyInProgress
			}
			return Outcome{
				StatusCode: record.StatusCode,
				Body:       append([]byte(nil), record.ResponseBody...),
				Failed:     record.Status == domain.IdempotencyStatusFailed,
			}, true, nil
		default:
			return Outcome{}, false, err
		}
	}

	outcome = run()

	var storeErr error
	switch {
	case outcome.Release:
		storeErr = g.repo.Delete(key)
	case outcome.Failed:
		storeErr = g.repo.MarkFailed(key, outcome.Body, outcome.StatusCode)
	default:
		storeErr = g.repo.MarkDone(key, outcome.Body, outcome.StatusCode)
	}
	if storeErr != nil {
		g.logger.WithError(storeErr).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
	return outcome, false, nil
}

// RequestHash строит отпечаток запроса: метод и тело.
func RequestHash(method string, body []byte) string {
	payload := make([]byte, 0, len(method)+1+len(body))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
