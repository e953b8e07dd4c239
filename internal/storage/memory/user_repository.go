package memory

import (
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userRepositoryInMemory struct {
	mu    sync.RWMutex
	users map[string]domain.UserProfile
}

// NewUserRepository создаёт in-memory реализацию UserRepository.
func NewUserRepository() domain.UserRepository {
	return &userRepositoryInMemory{users: make(map[string]domain.UserProfile)}
}

func (r *userRepositoryInMemory) Upsert(profile domain.UserProfile) error {
	uid := strings.TrimSpace(profile.UID)
	if uid == "" {
		return domain.ErrUserNotFound
	}
	profile.UID = uid

	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[uid] = r.users[uid].Merge(profile)
	return nil
}

func (r *userRepositoryInMemory) Get(uid string) (domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.users[strings.TrimSpace(uid)]
	if !ok {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	return profile, nil
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)
