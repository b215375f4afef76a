package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memChains struct {
	mu       sync.Mutex
	chains   map[int64]domain.Chain
	advances []uint64
}

func newMemChains(chains ...domain.Chain) *memChains {
	m := &memChains{chains: make(map[int64]domain.Chain)}
	for _, c := range chains {
		m.chains[c.ID] = c
	}
	return m
}

func (m *memChains) List(context.Context) ([]domain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Chain, 0, len(m.chains))
	for _, c := range m.chains {
		out = append(out, c)
	}
	return out, nil
}

func (m *memChains) GetByID(_ context.Context, id int64) (domain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[id]
	if !ok {
		return domain.Chain{}, fmt.Errorf("chain %d: %w", id, domain.ErrNotFound)
	}
	if c.BlockProcessOffset != nil {
		v := *c.BlockProcessOffset
		c.BlockProcessOffset = &v
	}
	return c, nil
}

func (m *memChains) AdvanceOffset(_ context.Context, id int64, next uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.advances = append(m.advances, next)
	if c.BlockProcessOffset == nil || next > *c.BlockProcessOffset {
		c.BlockProcessOffset = &next
		m.chains[id] = c
	}
	return nil
}

func (m *memChains) ResetOffset(_ context.Context, id int64, offset *uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.chains[id]
	c.BlockProcessOffset = offset
	m.chains[id] = c
	return nil
}

func (m *memChains) offset(id int64) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.chains[id]
	if c.BlockProcessOffset == nil {
		return 0, false
	}
	return *c.BlockProcessOffset, true
}

func (m *memChains) advanced() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.advances...)
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]bool)} }

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type recorder struct {
	mu          sync.Mutex
	trades      []domain.TradeEvent
	resolutions []domain.Resolution
	fail        func(domain.LogRef) error
}

func (r *recorder) ApplyTrade(_ context.Context, ev domain.TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(ev.Ref); err != nil {
			return err
		}
	}
	r.trades = append(r.trades, ev)
	return nil
}

func (r *recorder) ApplyResolution(_ context.Context, res domain.Resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(res.Ref); err != nil {
			return err
		}
	}
	r.resolutions = append(r.resolutions, res)
	return nil
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades), len(r.resolutions)
}
