package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// memStore mimics the datastore's case-insensitive unique indexes.
type memStore struct {
	mu        sync.Mutex
	nvLock    sync.Mutex
	seq       int
	producers map[string]*Producer
	wines     map[string]*Wine
	vintages  []*Vintage
	locks     int

	// raceProducer makes the next producer lookup miss once, as if a
	// concurrent writer committed between our read and our insert.
	raceProducer bool
}

func newMemStore() *memStore {
	return &memStore{producers: map[string]*Producer{}, wines: map[string]*Wine{}}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	tx := &memTx{store: m}
	defer tx.release()
	return fn(ctx, tx)
}

func (m *memStore) FindProducerByName(_ context.Context, name string) (*Producer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raceProducer {
		m.raceProducer = false
		m.producers[strings.ToLower(name)] = &Producer{ID: m.nextID("producer"), Name: strings.ToUpper(name)}
		return nil, ErrNotFound
	}
	if p, ok := m.producers[strings.ToLower(name)]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) InsertProducer(_ context.Context, p Producer) (*Producer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(p.Name)
	if _, ok := m.producers[key]; ok {
		return nil, ErrConflict
	}
	p.ID = m.nextID("producer")
	m.producers[key] = &p
	return &p, nil
}

func (m *memStore) FindWine(_ context.Context, producerID, name string) (*Wine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wines[producerID+"|"+strings.ToLower(name)]; ok {
		return w, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) InsertWine(_ context.Context, w Wine) (*Wine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := w.ProducerID + "|" + strings.ToLower(w.Name)
	if _, ok := m.wines[key]; ok {
		return nil, ErrConflict
	}
	w.ID = m.nextID("wine")
	m.wines[key] = &w
	return &w, nil
}

func (m *memStore) FindVintage(_ context.Context, wineID string, year int) (*Vintage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vintages {
		if v.WineID == wineID && v.Year != nil && *v.Year == year {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) FindNonVintage(_ context.Context, wineID string) (*Vintage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vintages {
		if v.WineID == wineID && v.Year == nil {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) InsertVintage(_ context.Context, v Vintage) (*Vintage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Year != nil {
		for _, existing := range m.vintages {
			if existing.WineID == v.WineID && existing.Year != nil && *existing.Year == *v.Year {
				return nil, ErrConflict
			}
		}
	}
	v.ID = m.nextID("vintage")
	m.vintages = append(m.vintages, &v)
	return &v, nil
}

func (m *memStore) LockNonVintage(context.Context, string) error {
	return nil
}

func (m *memStore) WineSummaries(context.Context, []string) (map[string]WineSummary, error) {
	return map[string]WineSummary{}, nil
}

// memTx holds the non-vintage lock until the transaction function returns.
type memTx struct {
	store  *memStore
	locked bool
}

func (t *memTx) FindProducerByName(ctx context.Context, name string) (*Producer, error) {
	return t.store.FindProducerByName(ctx, name)
}
func (t *memTx) InsertProducer(ctx context.Context, p Producer) (*Producer, error) {
	return t.store.InsertProducer(ctx, p)
}
func (t *memTx) FindWine(ctx context.Context, producerID, name string) (*Wine, error) {
	return t.store.FindWine(ctx, producerID, name)
}
func (t *memTx) InsertWine(ctx context.Context, w Wine) (*Wine, error) {
	return t.store.InsertWine(ctx, w)
}
func (t *memTx) FindVintage(ctx context.Context, wineID string, year int) (*Vintage, error) {
	return t.store.FindVintage(ctx, wineID, year)
}
func (t *memTx) FindNonVintage(ctx context.Context, wineID string) (*Vintage, error) {
	return t.store.FindNonVintage(ctx, wineID)
}
func (t *memTx) InsertVintage(ctx context.Context, v Vintage) (*Vintage, error) {
	return t.store.InsertVintage(ctx, v)
}
func (t *memTx) WineSummaries(ctx context.Context, ids []string) (map[string]WineSummary, error) {
	return t.store.WineSummaries(ctx, ids)
}
func (t *memTx) LockNonVintage(context.Context, string) error {
	t.store.nvLock.Lock()
	t.store.mu.Lock()
	t.store.locks++
	t.store.mu.Unlock()
	t.locked = true
	return nil
}

func (t *memTx) release() {
	if t.locked {
		t.store.nvLock.Unlock()
	}
}
