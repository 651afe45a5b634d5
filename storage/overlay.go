package storage

import "sync"

// Overlay stages writes and deletes on top of a base database. Reads fall
// through to the base until a staged entry shadows them. Nothing reaches the
// base until Commit, which applies the whole staged set; discarding the
// overlay leaves the base untouched. This is the all-or-nothing application
// surface each state transition runs on.
type Overlay struct {
	base Database

	mu      sync.RWMutex
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay creates an empty overlay bound to the given base database.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	k := string(key)
	if _, gone := o.deletes[k]; gone {
		return nil, ErrNotFound
	}
	if value, ok := o.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Apply stages all batched operations without touching the base.
func (o *Overlay) Apply(batch *Batch) error {
	if batch == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, op := range batch.ops {
		if op.del {
			delete(o.writes, op.key)
			o.deletes[op.key] = struct{}{}
			continue
		}
		delete(o.deletes, op.key)
		o.writes[op.key] = append([]byte(nil), op.value...)
	}
	return nil
}

// Close satisfies the Database interface; the overlay does not own the base.
func (o *Overlay) Close() {}

// Commit hands the whole staged set to the base as one batch and resets the
// overlay. The base applies the batch as a unit, so the staged changes land
// entirely or not at all.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := NewBatch()
	for k, value := range o.writes {
		batch.Put([]byte(k), value)
	}
	for k := range o.deletes {
		batch.Delete([]byte(k))
	}
	if err := o.base.Apply(batch); err != nil {
		return err
	}
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
	return nil
}

// Discard drops all staged changes without touching the base.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}
