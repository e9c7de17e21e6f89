package signal

import (
	"sort"
	"strconv"
	"sync"
)

type gateEntry struct {
	mu        sync.Mutex
	delivered bool
	seq       uint64
}

// DedupGate 同一 (symbol, 信号时间) 串行处理，保证至多投递一次
// key 数量超过 maxKeys 后只保留最近创建的 keep 个
type DedupGate struct {
	mu      sync.Mutex
	entries map[string]*gateEntry
	seq     uint64
	maxKeys int
	keep    int
}

func NewDedupGate(maxKeys, keep int) *DedupGate {
	if keep > maxKeys {
		keep = maxKeys
	}
	return &DedupGate{
		entries: make(map[string]*gateEntry),
		maxKeys: maxKeys,
		keep:    keep,
	}
}

// Handle 持有某个 key 的独占权，用完必须 Release
type Handle struct {
	entry *gateEntry
	once  sync.Once
}

func (h *Handle) Delivered() bool {
	return h.entry.delivered
}

func (h *Handle) MarkDelivered() {
	h.entry.delivered = true
}

func (h *Handle) Release() {
	h.once.Do(h.entry.mu.Unlock)
}

func gateKey(symbol string, signalTime int64) string {
	return symbol + "_" + strconv.FormatInt(signalTime, 10)
}

// Acquire 阻塞直到拿到该 key 的独占权；不同 key 互不阻塞
func (g *DedupGate) Acquire(symbol string, signalTime int64) *Handle {
	key := gateKey(symbol, signalTime)

	g.mu.Lock()
	e, ok := g.entries[key]
	if !ok {
		g.seq++
		e = &gateEntry{seq: g.seq}
		g.entries[key] = e
		g.cleanupLocked()
	}
	g.mu.Unlock()

	e.mu.Lock()
	return &Handle{entry: e}
}

func (g *DedupGate) cleanupLocked() {
	if len(g.entries) <= g.maxKeys {
		return
	}
	type kv struct {
		key string
		seq uint64
	}
	all := make([]kv, 0, len(g.entries))
	for k, e := range g.entries {
		all = append(all, kv{k, e.seq})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	for _, item := range all[g.keep:] {
		delete(g.entries, item.key)
	}
}

func (g *DedupGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *DedupGate) Reset() {
	g.mu.Lock()
	g.entries = make(map[string]*gateEntry)
	g.mu.Unlock()
}
