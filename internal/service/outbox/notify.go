package outbox

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// Kicker будит воркер публикации.
type Kicker interface {
	Kick()
}

type notifyingRepository struct {
	domain.OutboxRepository
	kicker Kicker
}

// NotifyOnEnqueue оборачивает repo так, что каждая успешная постановка события
// будит воркер, и подтверждение заказа не ждёт следующего тика опроса.
func NotifyOnEnqueue(repo domain.OutboxRepository, kicker Kicker) domain.OutboxRepository {
	if repo == nil || kicker == nil {
		return repo
	}
	return &notifyingRepository{OutboxRepository: repo, kicker: kicker}
}

func (r *notifyingRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	stored, err := r.OutboxRepository.Enqueue(msg)
	if err != nil {
		return stored, err
	}
	r.kicker.Kick()
	return stored, nil
}
