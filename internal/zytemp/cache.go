package zytemp

// Snapshot maps every measurement name to its latest value.
type Snapshot map[string]float64

type cacheEntry struct {
	value float64
	ok    bool
}

// SnapshotCache keeps the latest value of every Kind and decides when a
// complete, changed snapshot is ready to publish.
//
// It always has exactly one entry per Kind; entries are never removed.
type SnapshotCache struct {
	entries [len(kinds)]cacheEntry
}

func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{}
}

// Update stores v for k. It returns the full snapshot and true when the value
// changed and every kind has been observed at least once.
func (c *SnapshotCache) Update(k Kind, v float64) (Snapshot, bool) {
	i := k.index()
	if i < 0 {
		return nil, false
	}
	e := &c.entries[i]
	if e.ok && e.value == v {
		return nil, false
	}
	e.value = v
	e.ok = true

	if !c.Complete() {
		return nil, false
	}
	return c.snapshot(), true
}

// Complete reports whether every kind has a value.
func (c *SnapshotCache) Complete() bool {
	for _, e := range c.entries {
		if !e.ok {
			return false
		}
	}
	return true
}

func (c *SnapshotCache) Get(k Kind) (float64, bool) {
	i := k.index()
	if i < 0 {
		return 0, false
	}
	e := c.entries[i]
	return e.value, e.ok
}

func (c *SnapshotCache) snapshot() Snapshot {
	s := make(Snapshot, len(kinds))
	for i, k := range kinds {
		s[k.Name()] = c.entries[i].value
	}
	return s
}
