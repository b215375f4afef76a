package settlement

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

type memMarkets struct {
	mu      sync.Mutex
	markets map[int64]domain.PredictionMarket
	prices  map[int64][]decimal.Decimal
}

func newMemMarkets(ms ...domain.PredictionMarket) *memMarkets {
	s := &memMarkets{markets: map[int64]domain.PredictionMarket{}, prices: map[int64][]decimal.Decimal{}}
	for _, m := range ms {
		s.markets[m.ID] = m
	}
	return s
}

func (s *memMarkets) Create(_ context.Context, m domain.PredictionMarket) (domain.PredictionMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = int64(len(s.markets) + 1)
	s.markets[m.ID] = m
	return m, nil
}

func (s *memMarkets) GetByID(_ context.Context, id int64) (domain.PredictionMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.PredictionMarket{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarkets) find(match func(domain.PredictionMarket) bool) (domain.PredictionMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if match(m) {
			return m, nil
		}
	}
	return domain.PredictionMarket{}, domain.ErrNotFound
}

func (s *memMarkets) GetByAddress(_ context.Context, chainID int64, address string) (domain.PredictionMarket, error) {
	return s.find(func(m domain.PredictionMarket) bool {
		return m.ChainID == chainID && strings.EqualFold(m.Address, address)
	})
}

func (s *memMarkets) GetByConditionID(_ context.Context, chainID int64, conditionID string) (domain.PredictionMarket, error) {
	return s.find(func(m domain.PredictionMarket) bool {
		return m.ChainID == chainID && strings.EqualFold(m.ConditionID, conditionID)
	})
}

func (s *memMarkets) UpdateOutcomePrice(_ context.Context, marketID int64, tokenIndex int, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.markets[marketID]
	m.Outcomes[tokenIndex].Price = price
	s.markets[marketID] = m
	s.prices[marketID] = append(s.prices[marketID], price)
	return nil
}

func (s *memMarkets) SetResolution(_ context.Context, marketID int64, resolvedAt time.Time, ratios []decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if m.ResolvedAt != nil {
		return false, nil
	}
	m.ResolvedAt = &resolvedAt
	for i := range m.Outcomes {
		r := ratios[i]
		m.Outcomes[i].TruenessRatio = &r
	}
	s.markets[marketID] = m
	return true, nil
}

type memStats struct {
	mu      sync.Mutex
	applied map[string]domain.TradeRecord
	parts   []domain.Participation
}

func newMemStats(parts ...domain.Participation) *memStats {
	return &memStats{applied: map[string]domain.TradeRecord{}, parts: parts}
}

func (s *memStats) ApplyTrade(_ context.Context, rec domain.TradeRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[rec.Ref.String()]; ok {
		return false, nil
	}
	s.applied[rec.Ref.String()] = rec
	return true, nil
}

func (s *memStats) ListParticipations(_ context.Context, marketID int64) ([]domain.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Participation
	for _, p := range s.parts {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.AuditQuery) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *memAudit) has(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e == event {
			return true
		}
	}
	return false
}

type memArchiver struct {
	mu    sync.Mutex
	kinds []string
}

func (a *memArchiver) ArchiveReceipt(_ context.Context, chainID int64, kind string, _ *types.Receipt) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kinds = append(a.kinds, kind)
	return "receipts/" + kind, nil
}

func (a *memArchiver) ArchiveLogs(context.Context, int64, uint64, uint64, []types.Log) (string, error) {
	return "", nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	calls   int
	winners []string
}

func (n *recordingNotifier) NotifyResolved(_ context.Context, _ domain.PredictionMarket, winners []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.winners = winners
	return nil
}
