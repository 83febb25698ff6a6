package mapengine

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/darylpeterson1178/ebpf-for-windows/internal/epoch"
	"github.com/darylpeterson1178/ebpf-for-windows/internal/status"
)

// shardCount mirrors the teacher's sharded-mutex storage backend,
// generalized from byte-offset ranges to key-hash buckets so structural
// map mutation (insert/delete of a Go map key) scales across cores.
const shardCount = 64

type hashShard struct {
	mu      sync.RWMutex
	entries map[string]*atomic.Pointer[[]byte]
}

// hashMap is an open-length key/value map bounded by MaxEntries. Values
// are stored behind atomic pointers so a reader that has already found
// an entry can read its value without holding the shard lock.
type hashMap struct {
	def    Definition
	mgr    *epoch.Manager
	shards [shardCount]*hashShard

	countMu sync.Mutex
	count   int
}

func newHashMap(def Definition, mgr *epoch.Manager) *hashMap {
	m := &hashMap{def: def, mgr: mgr}
	for i := range m.shards {
		m.shards[i] = &hashShard{entries: make(map[string]*atomic.Pointer[[]byte])}
	}
	return m
}

func (m *hashMap) Definition() Definition { return m.def }

func (m *hashMap) shardFor(key string) *hashShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *hashMap) Lookup(key []byte) ([]byte, error) {
	if err := checkKeyValueSize(m.def, key, nil); err != nil {
		return nil, err
	}
	shard := m.shardFor(string(key))

	shard.mu.RLock()
	ptr, ok := shard.entries[string(key)]
	shard.mu.RUnlock()
	if !ok {
		return nil, status.New("MAP_LOOKUP_ELEMENT", status.NotFound, "key not present")
	}

	p := ptr.Load()
	out := make([]byte, len(*p))
	copy(out, *p)
	return out, nil
}

func (m *hashMap) LookupForProgram(ts *epoch.ThreadState, key []byte) ([]byte, error) {
	if _, in := ts.Entered(); !in {
		return nil, status.New("MAP_LOOKUP_ELEMENT", status.InvalidState, "thread not inside an epoch section")
	}
	if err := checkKeyValueSize(m.def, key, nil); err != nil {
		return nil, err
	}
	shard := m.shardFor(string(key))

	shard.mu.RLock()
	ptr, ok := shard.entries[string(key)]
	shard.mu.RUnlock()
	if !ok {
		return nil, status.New("MAP_LOOKUP_ELEMENT", status.NotFound, "key not present")
	}
	return *ptr.Load(), nil
}

func (m *hashMap) Update(key, value []byte) error {
	if err := checkKeyValueSize(m.def, key, value); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	shard := m.shardFor(string(key))
	shard.mu.Lock()
	existing, ok := shard.entries[string(key)]
	if ok {
		old := existing.Swap(&stored)
		shard.mu.Unlock()
		if m.mgr != nil {
			captured := old
			m.mgr.Retire(func() { _ = captured })
		}
		return nil
	}

	m.countMu.Lock()
	if m.count >= int(m.def.MaxEntries) {
		m.countMu.Unlock()
		shard.mu.Unlock()
		return status.New("MAP_UPDATE_ELEMENT", status.OutOfResources, "map is full")
	}
	m.count++
	m.countMu.Unlock()

	ptr := &atomic.Pointer[[]byte]{}
	ptr.Store(&stored)
	shard.entries[string(key)] = ptr
	shard.mu.Unlock()
	return nil
}

func (m *hashMap) Delete(key []byte) error {
	if err := checkKeyValueSize(m.def, key, nil); err != nil {
		return err
	}
	shard := m.shardFor(string(key))

	shard.mu.Lock()
	ptr, ok := shard.entries[string(key)]
	if !ok {
		shard.mu.Unlock()
		return status.New("MAP_DELETE_ELEMENT", status.NotFound, "key not present")
	}
	delete(shard.entries, string(key))
	shard.mu.Unlock()

	m.countMu.Lock()
	m.count--
	m.countMu.Unlock()

	if m.mgr != nil {
		old := ptr.Load()
		m.mgr.Retire(func() { _ = old })
	}
	return nil
}

// NextKey has no guaranteed ordering across updates; it sorts the
// current key set for a stable-per-snapshot traversal.
func (m *hashMap) NextKey(prev []byte) ([]byte, error) {
	var keys []string
	for _, shard := range m.shards {
		shard.mu.RLock()
		for k := range shard.entries {
			keys = append(keys, k)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		return nil, status.New("MAP_NEXT_KEY", status.NoMoreKeys, "map is empty")
	}

	if prev == nil {
		return []byte(keys[0]), nil
	}

	prevStr := string(prev)
	for i, k := range keys {
		if k == prevStr {
			if i+1 < len(keys) {
				return []byte(keys[i+1]), nil
			}
			return nil, status.New("MAP_NEXT_KEY", status.NoMoreKeys, "iteration exhausted")
		}
	}
	// prev no longer present; restart from the lowest remaining key.
	return []byte(keys[0]), nil
}
