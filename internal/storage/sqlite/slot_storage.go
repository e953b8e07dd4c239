package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	slotTableDDL = `
CREATE TABLE IF NOT EXISTS cart_slots (
    key TEXT PRIMARY KEY,
    payload BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
)

// SlotStorage хранит слоты корзины в локальном файле SQLite.
type SlotStorage struct {
	db   *sql.DB
	path string
}

// Open открывает (или создаёт) файл базы и таблицу слотов.
func Open(path string) (*SlotStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Одно подключение: SQLite сериализует запись в файл.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, slotTableDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure cart_slots table: %w", err)
	}

	return &SlotStorage{db: db, path: path}, nil
}

// Path возвращает путь к файлу базы.
func (s *SlotStorage) Path() string {
	return s.path
}

func (s *SlotStorage) Read(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM cart_slots WHERE key = ?`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cart slot %q: %w", key, err)
	}
	return payload, true, nil
}

func (s *SlotStorage) Write(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_slots (key, payload, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE
		SET payload = excluded.payload,
		    updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("write cart slot %q: %w", key, err)
	}
	return nil
}

// Keys перечисляет сохранённые ключи слотов по алфавиту.
func (s *SlotStorage) Keys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cart_slots ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list cart slots: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan cart slot key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart slots: %w", err)
	}
	return keys, nil
}

// Ping проверяет, что файл базы доступен.
func (s *SlotStorage) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает базу.
func (s *SlotStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.SlotStorage = (*SlotStorage)(nil)
