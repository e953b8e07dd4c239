package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type slotStorage struct {
	db *sql.DB
}

// NewSlotStorage создаёт PostgreSQL-реализацию SlotStorage поверх таблицы cart_slots.
func NewSlotStorage(store *Store) domain.SlotStorage {
	return &slotStorage{db: store.DB()}
}

func (s *slotStorage) Read(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM cart_slots WHERE key = $1`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cart slot %q: %w", key, err)
	}
	return payload, true, nil
}

func (s *slotStorage) Write(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_slots (key, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write cart slot %q: %w", key, err)
	}
	return nil
}

var _ domain.SlotStorage = (*slotStorage)(nil)
