package cart

import (
	"errors"
	"sync"
)

var errStorageDown = errors.New("storage unavailable")

// fakeSlots хранит слоты в памяти и умеет имитировать сбои.
type fakeSlots struct {
	mu       sync.Mutex
	data     map[string][]byte
	writes   int
	failRead bool
	failSave bool
}

func newFakeSlots() *fakeSlots {
	return &fakeSlots{data: make(map[string][]byte)}
}

func (f *fakeSlots) Read(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead {
		return nil, false, errStorageDown
	}
	v, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (f *fakeSlots) Write(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errStorageDown
	}
	f.writes++
	f.data[key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeSlots) put(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = []byte(value)
}

func (f *fakeSlots) get(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.data[key])
}

func (f *fakeSlots) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}
