package cart

import (
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const maxSessionIDLength = 128

// ErrInvalidSessionID: идентификатор сессии пуст, слишком длинный или содержит "/".
var ErrInvalidSessionID = errors.New("invalid session id")

// SlotKey возвращает ключ слота корзины для сессии.
func SlotKey(sessionID string) string {
	return "session/" + sessionID + "/" + DefaultSlotKey
}

// ValidateSessionID проверяет идентификатор сессии перед построением ключа слота.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" || len(sessionID) > maxSessionIDLength || strings.ContainsAny(sessionID, "/ \t\r\n") {
		return ErrInvalidSessionID
	}
	return nil
}

type registryEntry struct {
	store    *Store
	lastSeen time.Time
}

// Registry держит по одной корзине на сессию. Корзина создаётся и загружается
// из слота при первом обращении.
type Registry struct {
	catalog domain.Catalog
	storage domain.SlotStorage
	opts    []Option
	logger  *log.Entry
	metrics *metrics.StorefrontMetrics
	now     func() time.Time

	mu     sync.Mutex
	stores map[string]*registryEntry
}

// NewRegistry создаёт реестр корзин. opts применяются к каждой создаваемой корзине.
func NewRegistry(catalog domain.Catalog, storage domain.SlotStorage, logger *log.Entry, m *metrics.StorefrontMetrics, opts ...Option) *Registry {
	if logger == nil {
		logger = log.New().WithField("component", "cart-registry")
	}
	return &Registry{
		catalog: catalog,
		storage: storage,
		opts:    opts,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		stores:  make(map[string]*registryEntry),
	}
}

// Get возвращает корзину сессии, при необходимости создавая и загружая её.
// Если слот не удалось прочитать, возвращается ErrPersistenceRead и корзина не
// кэшируется: следующее обращение повторит загрузку.
func (r *Registry) Get(sessionID string) (*Store, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.stores[sessionID]; ok {
		entry.lastSeen = r.now()
		return entry.store, nil
	}

	opts := make([]Option, 0, len(r.opts)+3)
	opts = append(opts, r.opts...)
	opts = append(opts,
		WithSlotKey(SlotKey(sessionID)),
		WithLogger(r.logger.WithField("session_id", sessionID)),
		WithMetrics(r.metrics),
	)
	store := NewStore(r.catalog, r.storage, opts...)
	if err := store.Load(); err != nil {
		r.logger.WithError(err).WithField("session_id", sessionID).Warn("cart not opened: snapshot read failed")
		return nil, err
	}

	r.stores[sessionID] = &registryEntry{store: store, lastSeen: r.now()}
	if r.metrics != nil {
		r.metrics.RecordCartOpened()
	}
	return store, nil
}

// Evict выгружает корзину сессии из памяти. Сохранённый снимок не трогается.
func (r *Registry) Evict(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[sessionID]; !ok {
		return false
	}
	delete(r.stores, sessionID)
	if r.metrics != nil {
		r.metrics.RecordCartClosed()
	}
	return true
}

// EvictIdle выгружает корзины, к которым не обращались с момента before.
func (r *Registry) EvictIdle(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted int
	for id, entry := range r.stores {
		if entry.lastSeen.Before(before) {
			delete(r.stores, id)
			evicted++
			if r.metrics != nil {
				r.metrics.RecordCartClosed()
			}
		}
	}
	if evicted > 0 {
		r.logger.WithField("evicted", evicted).Debug("idle carts evicted")
	}
	return evicted
}

// Len возвращает количество корзин в памяти.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
