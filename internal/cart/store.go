package cart

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// DefaultSlotKey задаёт имя слота, под которым хранится снимок корзины.
const DefaultSlotKey = "ideaGrafik_cart_v2"

// DefaultShippingFee применяется к любой непустой корзине.
var DefaultShippingFee = decimal.RequireFromString("6.00")

// Операции корзины для логов и метрик.
const (
	opLoad   = "load"
	opAdd    = "add"
	opSet    = "set_quantity"
	opRemove = "remove"
	opClear  = "clear"
)

// Listener получает уведомление после каждого изменения корзины.
type Listener func(event domain.CartEvent)

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики корзины.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithShippingFee переопределяет фиксированную стоимость доставки.
func WithShippingFee(fee decimal.Decimal) Option {
	return func(s *Store) {
		if !fee.IsNegative() {
			s.shippingFee = fee
		}
	}
}

// WithSlotKey задаёт ключ слота хранилища.
func WithSlotKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.slotKey = key
		}
	}
}

// Store ведёт корзину одной сессии: состояние в памяти плюс синхронная запись снимка
// в слот после каждой мутации. Операции сериализуются мьютексом.
type Store struct {
	catalog     domain.Catalog
	storage     domain.SlotStorage
	slotKey     string
	shippingFee decimal.Decimal
	logger      *log.Entry
	metrics     *metrics.StorefrontMetrics

	// rank задаёт порядок отображения: позиция товара в каталоге.
	rank map[string]int

	mu       sync.Mutex
	lines    map[domain.CartKey]int
	revision uint64
	// readErr не nil, пока последнее чтение слота не удалось; изменения и запись
	// в этом состоянии запрещены.
	readErr error

	listenersMu    sync.Mutex
	listeners      map[int]Listener
	nextListenerID int
}

// NewStore создаёт пустую корзину. Для восстановления сохранённого состояния вызовите Load.
func NewStore(catalog domain.Catalog, storage domain.SlotStorage, opts ...Option) *Store {
	s := &Store{
		catalog:     catalog,
		storage:     storage,
		slotKey:     DefaultSlotKey,
		shippingFee: DefaultShippingFee,
		logger:      log.New().WithField("component", "cart"),
		lines:       make(map[domain.CartKey]int),
		listeners:   make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}

	products := catalog.Products()
	s.rank = make(map[string]int, len(products))
	for i, p := range products {
		s.rank[p.ID] = i
	}
	return s
}

// SlotKey возвращает ключ слота корзины.
func (s *Store) SlotKey() string {
	return s.slotKey
}

// Load заменяет состояние в памяти сохранённым снимком. Отсутствующий или
// нечитаемый снимок даёт пустую корзину без ошибки. Если хранилище не ответило,
// возвращается ErrPersistenceRead, а корзина отклоняет изменения до успешного Load.
func (s *Store) Load() error {
	raw, found, err := s.storage.Read(s.slotKey)
	if err != nil {
		s.logger.WithError(err).WithField("slot", s.slotKey).Warn("read cart snapshot failed")
		readErr := fmt.Errorf("load cart %s: %w: %w", s.slotKey, domain.ErrPersistenceRead, err)
		s.mu.Lock()
		s.setLinesLocked(nil)
		s.readErr = readErr
		s.mu.Unlock()
		s.recordOp(opLoad, metrics.ResultUnavailable)
		return readErr
	}

	var decoded DecodeResult
	if found {
		decoded, err = Decode(raw, s.catalog)
		if err != nil {
			s.logger.WithError(err).WithField("slot", s.slotKey).Warn("discarding corrupt cart snapshot")
			if s.metrics != nil {
				s.metrics.RecordCorruptSnapshot()
			}
			decoded = DecodeResult{}
		}
	}

	if decoded.Migrated > 0 || decoded.Dropped > 0 {
		s.logger.WithFields(log.Fields{
			"slot":     s.slotKey,
			"migrated": decoded.Migrated,
			"dropped":  decoded.Dropped,
		}).Info("cart snapshot upgraded on load")
	}
	if s.metrics != nil {
		s.metrics.RecordLegacyMigration(decoded.Migrated)
	}

	s.replace(decoded.Lines)
	s.recordOp(opLoad, metrics.ResultOK)
	s.notify(domain.CartEvent{Type: domain.CartEventLoaded, Totals: s.Totals()})
	return nil
}

func (s *Store) replace(lines []domain.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLinesLocked(lines)
	s.readErr = nil
}

func (s *Store) setLinesLocked(lines []domain.CartLine) {
	s.lines = make(map[domain.CartKey]int, len(lines))
	for _, line := range lines {
		s.lines[line.Key()] = line.Quantity
	}
	s.revision++
}

// unavailableLocked проверяет, что снимок прочитан; иначе операция отклоняется без записи.
func (s *Store) unavailableLocked(op string) error {
	if s.readErr == nil {
		return nil
	}
	s.recordOp(op, metrics.ResultUnavailable)
	return fmt.Errorf("%s: %w", op, s.readErr)
}

// Add добавляет quantity единиц товара выбранного размера. Пустой size означает
// размер товара по умолчанию. Превышение стока отклоняется без изменения корзины.
func (s *Store) Add(productID string, quantity int, size string) error {
	if quantity <= 0 {
		s.recordOp(opAdd, metrics.ResultInvalid)
		return domain.ErrInvalidQuantity
	}
	product, ok := s.catalog.FindProduct(productID)
	if !ok {
		s.recordOp(opAdd, metrics.ResultNotFound)
		return fmt.Errorf("add %q: %w", productID, domain.ErrProductNotFound)
	}
	if size == "" {
		size = product.DefaultSize()
	}
	if !product.HasSize(size) {
		s.recordOp(opAdd, metrics.ResultInvalid)
		return fmt.Errorf("add %q size %q: %w", productID, size, domain.ErrInvalidSize)
	}
	key := domain.CartKey{ProductID: product.ID, Size: size}

	s.mu.Lock()
	if err := s.unavailableLocked(opAdd); err != nil {
		s.mu.Unlock()
		return err
	}
	newQuantity := s.lines[key] + quantity
	if newQuantity > product.Stock {
		s.mu.Unlock()
		s.recordOp(opAdd, metrics.ResultInsufficientStock)
		return fmt.Errorf("add %s: requested %d, stock %d: %w", key, newQuantity, product.Stock, domain.ErrInsufficientStock)
	}
	s.lines[key] = newQuantity
	s.revision++
	persistErr := s.persistLocked()
	totals := s.totalsLocked()
	s.mu.Unlock()

	return s.finish(opAdd, domain.CartEvent{Type: domain.CartEventAdded, Key: key, Totals: totals}, persistErr)
}

// SetQuantity перезаписывает количество позиции. quantity <= 0 удаляет позицию.
func (s *Store) SetQuantity(key domain.CartKey, quantity int) error {
	if quantity <= 0 {
		return s.remove(opSet, key)
	}
	product, ok := s.catalog.FindProduct(key.ProductID)
	if !ok {
		s.recordOp(opSet, metrics.ResultNotFound)
		return fmt.Errorf("set %s: %w", key, domain.ErrProductNotFound)
	}
	if !product.HasSize(key.Size) {
		s.recordOp(opSet, metrics.ResultInvalid)
		return fmt.Errorf("set %s: %w", key, domain.ErrInvalidSize)
	}
	if quantity > product.Stock {
		s.recordOp(opSet, metrics.ResultInsufficientStock)
		return fmt.Errorf("set %s: requested %d, stock %d: %w", key, quantity, product.Stock, domain.ErrInsufficientStock)
	}

	s.mu.Lock()
	if err := s.unavailableLocked(opSet); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lines[key] = quantity
	s.revision++
	persistErr := s.persistLocked()
	totals := s.totalsLocked()
	s.mu.Unlock()

	return s.finish(opSet, domain.CartEvent{Type: domain.CartEventUpdated, Key: key, Totals: totals}, persistErr)
}

// Remove удаляет позицию, если она есть, и сохраняет снимок.
func (s *Store) Remove(key domain.CartKey) error {
	return s.remove(opRemove, key)
}

func (s *Store) remove(op string, key domain.CartKey) error {
	s.mu.Lock()
	if err := s.unavailableLocked(op); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.lines, key)
	s.revision++
	persistErr := s.persistLocked()
	totals := s.totalsLocked()
	s.mu.Unlock()

	return s.finish(op, domain.CartEvent{Type: domain.CartEventRemoved, Key: key, Totals: totals}, persistErr)
}

// Clear очищает корзину и сохраняет пустой снимок.
func (s *Store) Clear() error {
	s.mu.Lock()
	if err := s.unavailableLocked(opClear); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lines = make(map[domain.CartKey]int)
	s.revision++
	persistErr := s.persistLocked()
	totals := s.totalsLocked()
	s.mu.Unlock()

	return s.finish(opClear, domain.CartEvent{Type: domain.CartEventCleared, Totals: totals}, persistErr)
}

// Quote возвращает позиции, итоги и ревизию корзины, снятые под одной блокировкой.
func (s *Store) Quote() domain.CartQuote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CartQuote{
		Lines:    s.linesLocked(),
		Totals:   s.totalsLocked(),
		Revision: s.revision,
	}
}

// ClearIfUnchanged очищает корзину, только если её ревизия всё ещё равна revision.
// Иначе возвращается ErrCartChanged и корзина не меняется. Сбой записи пустого
// снимка возвращается как ErrPersistenceWrite уже после очистки в памяти.
func (s *Store) ClearIfUnchanged(revision uint64) error {
	s.mu.Lock()
	if err := s.unavailableLocked(opClear); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.revision != revision {
		current := s.revision
		s.mu.Unlock()
		s.recordOp(opClear, metrics.ResultCartChanged)
		return fmt.Errorf("clear %s: revision %d, expected %d: %w", s.slotKey, current, revision, domain.ErrCartChanged)
	}
	s.lines = make(map[domain.CartKey]int)
	s.revision++
	persistErr := s.persistLocked()
	totals := s.totalsLocked()
	s.mu.Unlock()

	return s.finish(opClear, domain.CartEvent{Type: domain.CartEventCleared, Totals: totals}, persistErr)
}

// Totals считает итоги по позициям, которые удалось сопоставить с каталогом.
func (s *Store) Totals() domain.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalsLocked()
}

func (s *Store) totalsLocked() domain.Totals {
	subtotal := decimal.Zero
	var count int
	for key, qty := range s.lines {
		product, ok := s.catalog.FindProduct(key.ProductID)
		if !ok {
			continue
		}
		subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(qty))))
		count += qty
	}
	shipping := decimal.Zero
	if count > 0 {
		shipping = s.shippingFee
	}
	return domain.Totals{
		Subtotal:    subtotal,
		ShippingFee: shipping,
		Total:       subtotal.Add(shipping),
		ItemCount:   count,
	}
}

// Lines возвращает позиции, сопоставленные с каталогом, в порядке каталога и размеров.
// Позиции неизвестных товаров пропускаются.
func (s *Store) Lines() []domain.ResolvedLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linesLocked()
}

func (s *Store) linesLocked() []domain.ResolvedLine {
	resolved := make([]domain.ResolvedLine, 0, len(s.lines))
	for key, qty := range s.lines {
		product, ok := s.catalog.FindProduct(key.ProductID)
		if !ok {
			continue
		}
		resolved = append(resolved, domain.ResolvedLine{
			Key:       key,
			Product:   product,
			Size:      key.Size,
			Quantity:  qty,
			LineTotal: product.Price.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	sort.Slice(resolved, func(i, j int) bool {
		a, b := resolved[i], resolved[j]
		if a.Product.ID != b.Product.ID {
			return s.rank[a.Product.ID] < s.rank[b.Product.ID]
		}
		ai, bi := a.Product.SizeIndex(a.Size), b.Product.SizeIndex(b.Size)
		if ai != bi {
			return ai < bi
		}
		return a.Key.String() < b.Key.String()
	})
	return resolved
}

// Contents возвращает все хранимые позиции, включая позиции неизвестных товаров.
// Порядок: как в Lines, затем неизвестные товары по ключу.
func (s *Store) Contents() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentsLocked()
}

func (s *Store) contentsLocked() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(s.lines))
	for key, qty := range s.lines {
		lines = append(lines, domain.CartLine{ProductID: key.ProductID, Size: key.Size, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		ra, aKnown := s.rank[a.ProductID]
		rb, bKnown := s.rank[b.ProductID]
		if aKnown != bKnown {
			return aKnown
		}
		if aKnown && ra != rb {
			return ra < rb
		}
		if aKnown && a.ProductID == b.ProductID {
			if product, ok := s.catalog.FindProduct(a.ProductID); ok {
				ai, bi := product.SizeIndex(a.Size), product.SizeIndex(b.Size)
				if ai != bi {
					return ai < bi
				}
			}
		}
		return a.Key().String() < b.Key().String()
	})
	return lines
}

// Snapshot возвращает текущее состояние в форме, в которой оно пишется в слот.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Encode(s.contentsLocked())
}

// Subscribe регистрирует listener; возвращённая функция отменяет подписку.
// Уведомления доставляются синхронно после освобождения блокировки корзины.
func (s *Store) Subscribe(listener Listener) (unsubscribe func()) {
	if listener == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = listener
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) persistLocked() error {
	data, err := Encode(s.contentsLocked())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceWrite, err)
	}
	if err := s.storage.Write(s.slotKey, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceWrite, err)
	}
	return nil
}

// finish логирует сбой записи и рассылает уведомление. Состояние в памяти не откатывается.
func (s *Store) finish(op string, event domain.CartEvent, persistErr error) error {
	if persistErr != nil {
		s.logger.WithError(persistErr).WithFields(log.Fields{
			"slot": s.slotKey,
			"op":   op,
		}).Error("persist cart snapshot failed")
		if s.metrics != nil {
			s.metrics.RecordPersistFailure()
		}
		s.recordOp(op, metrics.ResultPersistFailed)
		event.PersistErr = persistErr
	} else {
		s.recordOp(op, metrics.ResultOK)
	}
	s.notify(event)
	return persistErr
}

func (s *Store) notify(event domain.CartEvent) {
	s.listenersMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

func (s *Store) recordOp(op, result string) {
	if s.metrics != nil {
		s.metrics.RecordCartOperation(op, result)
	}
}
