package lbcore

// Cursor is the position of an oracle in its ring of samples.
type Cursor struct {
	Active uint16 // id of the sample being written, 0 before the first one
	Size   uint16 // number of slots written so far, at most the oracle length
}

// Store holds the samples and cursor of one oracle. Absent samples are
// reported by Load with ok set to false.
type Store interface {
	// Load returns the sample stored at id.
	Load(id uint16) (s Sample, ok bool, err error)

	// Cursor returns the last committed cursor, or the zero cursor for a new
	// store.
	Cursor() (Cursor, error)

	// Commit stores s at id and c as the cursor. Either both are stored or
	// neither is.
	Commit(id uint16, s Sample, c Cursor) error
}

// MemStore is a Store backed by a sparse map.
type MemStore struct {
	samples map[uint16]Sample
	cursor  Cursor
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{samples: make(map[uint16]Sample)}
}

func (m *MemStore) Load(id uint16) (Sample, bool, error) {
	s, ok := m.samples[id]
	return s, ok, nil
}

func (m *MemStore) Cursor() (Cursor, error) { return m.cursor, nil }

func (m *MemStore) Commit(id uint16, s Sample, c Cursor) error {
	m.samples[id] = s
	m.cursor = c
	return nil
}
