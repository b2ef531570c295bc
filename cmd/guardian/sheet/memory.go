package sheet

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. It counts calls per operation so
// callers can assert how often the backing store was hit.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][][]string
	calls  map[string]int
	// FailOn makes the named operation return an error, e.g. "UpdateCell".
	FailOn map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string][][]string),
		calls:  make(map[string]int),
		FailOn: make(map[string]error),
	}
}

// NewMemoryStoreWithDefaults creates every application table with its default header.
func NewMemoryStoreWithDefaults() *MemoryStore {
	m := NewMemoryStore()
	for name, header := range DefaultHeaders {
		m.CreateTable(name, header)
	}
	return m
}

func (m *MemoryStore) CreateTable(name string, header []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = [][]string{append([]string(nil), header...)}
}

// EnsureTable creates the table unless it already exists.
func (m *MemoryStore) EnsureTable(_ context.Context, name string, header []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; ok {
		return false, nil
	}
	m.tables[name] = [][]string{append([]string(nil), header...)}
	return true, nil
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

func (m *MemoryStore) track(op string) error {
	m.calls[op]++
	if err, ok := m.FailOn[op]; ok && err != nil {
		return err
	}
	return nil
}

func (m *MemoryStore) GetTable(ctx context.Context, table string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetTable"); err != nil {
		return nil, err
	}
	rows, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (m *MemoryStore) GetCell(ctx context.Context, table string, row, col int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("GetCell"); err != nil {
		return "", err
	}
	rows, ok := m.tables[table]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if row < 1 || row > len(rows) || col < 1 {
		return "", ErrOutOfRange
	}
	r := rows[row-1]
	if col > len(r) {
		return "", nil
	}
	return r[col-1], nil
}

func (m *MemoryStore) AppendRow(ctx context.Context, table string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("AppendRow"); err != nil {
		return err
	}
	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	m.tables[table] = append(rows, append([]string(nil), values...))
	return nil
}

func (m *MemoryStore) UpdateCell(ctx context.Context, table string, row, col int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("UpdateCell"); err != nil {
		return err
	}
	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if row < 1 || row > len(rows) || col < 1 {
		return ErrOutOfRange
	}
	r := rows[row-1]
	for len(r) < col {
		r = append(r, "")
	}
	r[col-1] = value
	rows[row-1] = r
	return nil
}

func (m *MemoryStore) FindRow(ctx context.Context, table, value string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("FindRow"); err != nil {
		return 0, err
	}
	rows, ok := m.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	for i, r := range rows {
		for _, c := range r {
			if c == value {
				return i + 1, nil
			}
		}
	}
	return 0, nil
}

func (m *MemoryStore) DeleteRow(ctx context.Context, table string, row int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.track("DeleteRow"); err != nil {
		return err
	}
	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if row < 2 || row > len(rows) {
		return ErrOutOfRange
	}
	m.tables[table] = append(rows[:row-1], rows[row:]...)
	return nil
}

var _ Store = (*MemoryStore)(nil)
