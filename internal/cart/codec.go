package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// snapshotEntry задаёт текущую форму записи позиции в слоте.
type snapshotEntry struct {
	Quantity int    `json:"quantity"`
	Size     string `json:"size"`
}

// storedEntry читает запись в текущей форме; qty встречается в ранних версиях витрины.
type storedEntry struct {
	Quantity *float64 `json:"quantity"`
	Qty      *float64 `json:"qty"`
	Size     string   `json:"size"`
}

// DecodeResult возвращается разбором сохранённого снимка.
type DecodeResult struct {
	Lines []domain.CartLine
	// Migrated считает legacy-записи, переписанных в текущую форму.
	Migrated int
	// Dropped считает записи, отброшенные при разборе.
	Dropped int
}

// Encode сериализует позиции в текущую форму {"pid_size": {"quantity": n, "size": "s"}}.
// Ключи в JSON отсортированы, поэтому одинаковая корзина даёт одинаковые байты.
func Encode(lines []domain.CartLine) ([]byte, error) {
	snapshot := make(map[string]snapshotEntry, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		snapshot[line.Key().String()] = snapshotEntry{Quantity: line.Quantity, Size: line.Size}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode cart snapshot: %w", err)
	}
	return data, nil
}

// Decode разбирает снимок в любой из поддерживаемых форм. Legacy-записи {"pid": n}
// переписываются на размер товара по умолчанию; записи неизвестных товаров отбрасываются.
// Записи текущей формы сохраняются как есть, даже если товара уже нет в каталоге.
// Пустой ввод или JSON null дают пустую корзину. Нечитаемый снимок возвращает
// ErrCorruptPersistedState.
func Decode(raw []byte, catalog domain.Catalog) (DecodeResult, error) {
	var result DecodeResult
	if len(bytes.TrimSpace(raw)) == 0 {
		return result, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return DecodeResult{}, fmt.Errorf("%w: %v", domain.ErrCorruptPersistedState, err)
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	current := make(map[domain.CartKey]int, len(entries))
	var legacy []domain.CartLine

	for _, key := range keys {
		value := bytes.TrimSpace(entries[key])
		if len(value) == 0 {
			result.Dropped++
			continue
		}

		if value[0] == '{' {
			line, ok := decodeCurrent(key, value)
			if !ok {
				result.Dropped++
				continue
			}
			current[line.Key()] = line.Quantity
			continue
		}

		var quantity float64
		if err := json.Unmarshal(value, &quantity); err != nil {
			result.Dropped++
			continue
		}
		qty, ok := wholeQuantity(quantity)
		if !ok {
			result.Dropped++
			continue
		}
		product, found := catalog.FindProduct(key)
		if !found || len(product.Sizes) == 0 {
			result.Dropped++
			continue
		}
		legacy = append(legacy, domain.CartLine{ProductID: product.ID, Size: product.DefaultSize(), Quantity: qty})
	}

	for _, line := range legacy {
		// Запись текущей формы под тем же ключом новее legacy-значения.
		if _, exists := current[line.Key()]; exists {
			result.Dropped++
			continue
		}
		current[line.Key()] = line.Quantity
		result.Migrated++
	}

	result.Lines = make([]domain.CartLine, 0, len(current))
	for key, qty := range current {
		result.Lines = append(result.Lines, domain.CartLine{ProductID: key.ProductID, Size: key.Size, Quantity: qty})
	}
	sort.Slice(result.Lines, func(i, j int) bool {
		return result.Lines[i].Key().String() < result.Lines[j].Key().String()
	})
	return result, nil
}

func decodeCurrent(rawKey string, value []byte) (domain.CartLine, bool) {
	key, err := domain.ParseCartKey(rawKey)
	if err != nil {
		return domain.CartLine{}, false
	}
	var entry storedEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return domain.CartLine{}, false
	}
	quantity := entry.Quantity
	if quantity == nil {
		quantity = entry.Qty
	}
	if quantity == nil {
		return domain.CartLine{}, false
	}
	qty, ok := wholeQuantity(*quantity)
	if !ok {
		return domain.CartLine{}, false
	}
	// Размер берётся из ключа: ключ и есть идентичность позиции.
	return domain.CartLine{ProductID: key.ProductID, Size: key.Size, Quantity: qty}, true
}

func wholeQuantity(v float64) (int, bool) {
	if v <= 0 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}
