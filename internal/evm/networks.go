package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// Network is one chain's provider state. Entries are immutable once stored;
// every change builds a new entry and swaps it into the map, so a caller
// holding an old entry keeps a consistent view.
type Network struct {
	Chain   domain.Chain
	ChainID *big.Int
	HTTP    Client
	WS      Client

	reconnect *time.Timer
}

// Networks maps chain ids to their provider state.
type Networks struct {
	mu     sync.RWMutex
	dialer Dialer
	byID   map[int64]*Network
	closed bool
	logger *slog.Logger
}

// NewNetworks creates an empty map that dials with dialer.
func NewNetworks(dialer Dialer, logger *slog.Logger) *Networks {
	return &Networks{
		dialer: dialer,
		byID:   make(map[int64]*Network),
		logger: logger.With(slog.String("component", "networks")),
	}
}

// Open dials an HTTP provider for chain and stores it, replacing any previous
// entry for the same id.
func (n *Networks) Open(ctx context.Context, chain domain.Chain) (*Network, error) {
	client, err := n.dialer.DialHTTP(ctx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: open chain %d: %w", chain.ID, err)
	}
	entry := &Network{Chain: chain, ChainID: big.NewInt(chain.ID), HTTP: client}
	if old := n.swap(chain.ID, entry); old != nil {
		old.release()
	}
	return entry, nil
}

// Get returns the current entry for chainID.
func (n *Networks) Get(chainID int64) (*Network, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, errClosed
	}
	entry, ok := n.byID[chainID]
	if !ok {
		return nil, fmt.Errorf("evm: chain %d: %w", chainID, domain.ErrNotFound)
	}
	return entry, nil
}

// Client returns the HTTP provider for chainID.
func (n *Networks) Client(chainID int64) (Client, error) {
	entry, err := n.Get(chainID)
	if err != nil {
		return nil, err
	}
	return entry.HTTP, nil
}

// UpdateChain stores a fresh chain record without touching the providers.
func (n *Networks) UpdateChain(chain domain.Chain) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.byID[chain.ID]; ok {
		next := *cur
		next.Chain = chain
		n.byID[chain.ID] = &next
	}
}

// ReplaceHTTP dials a new HTTP provider for an open chain.
func (n *Networks) ReplaceHTTP(ctx context.Context, chainID int64) (*Network, error) {
	cur, err := n.Get(chainID)
	if err != nil {
		return nil, err
	}
	client, err := n.dialer.DialHTTP(ctx, cur.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: replace http provider for chain %d: %w", chainID, err)
	}
	var old Client
	next, err := n.update(chainID, func(e *Network) {
		old, e.HTTP = e.HTTP, client
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	if old != nil && old != client {
		old.Close()
	}
	n.logger.Info("http provider replaced", slog.Int64("chain_id", chainID))
	return next, nil
}

// AttachWS dials a WebSocket provider for an open chain.
func (n *Networks) AttachWS(ctx context.Context, chainID int64) (*Network, error) {
	cur, err := n.Get(chainID)
	if err != nil {
		return nil, err
	}
	client, err := n.dialer.DialWS(ctx, cur.Chain.WebSocketURL())
	if err != nil {
		return nil, fmt.Errorf("evm: attach ws for chain %d: %w", chainID, err)
	}
	var old Client
	next, err := n.update(chainID, func(e *Network) {
		old, e.WS = e.WS, client
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	if old != nil && old != client {
		old.Close()
	}
	return next, nil
}

// DetachWS closes the chain's WebSocket provider, if any.
func (n *Networks) DetachWS(chainID int64) {
	var old Client
	if _, err := n.update(chainID, func(e *Network) {
		old, e.WS = e.WS, nil
	}); err != nil {
		return
	}
	if old != nil {
		old.Close()
	}
}

// ScheduleReconnect arms the chain's reconnect timer, replacing one already armed.
func (n *Networks) ScheduleReconnect(chainID int64, delay time.Duration, fn func()) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	cur, ok := n.byID[chainID]
	if !ok {
		return fmt.Errorf("evm: chain %d: %w", chainID, domain.ErrNotFound)
	}
	if cur.reconnect != nil {
		cur.reconnect.Stop()
	}
	next := *cur
	next.reconnect = time.AfterFunc(delay, fn)
	n.byID[chainID] = &next
	return nil
}

// Remove closes and forgets a chain.
func (n *Networks) Remove(chainID int64) {
	n.mu.Lock()
	cur, ok := n.byID[chainID]
	delete(n.byID, chainID)
	n.mu.Unlock()
	if ok {
		cur.release()
	}
}

// IDs returns the open chain ids in ascending order.
func (n *Networks) IDs() []int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]int64, 0, len(n.byID))
	for id := range n.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases every provider.
func (n *Networks) Close() {
	n.mu.Lock()
	entries := n.byID
	n.byID = make(map[int64]*Network)
	n.closed = true
	n.mu.Unlock()
	for _, e := range entries {
		e.release()
	}
}

// update applies change to a copy of the chain's current entry and stores
// it. The read and the store happen under one lock, so concurrent updates of
// different fields never undo each other. Dialing stays outside the lock.
func (n *Networks) update(chainID int64, change func(*Network)) (*Network, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, errClosed
	}
	cur, ok := n.byID[chainID]
	if !ok {
		return nil, fmt.Errorf("evm: chain %d: %w", chainID, domain.ErrNotFound)
	}
	next := *cur
	change(&next)
	n.byID[chainID] = &next
	return &next, nil
}

func (n *Networks) swap(chainID int64, entry *Network) *Network {
	n.mu.Lock()
	defer n.mu.Unlock()
	old := n.byID[chainID]
	n.byID[chainID] = entry
	return old
}

func (e *Network) release() {
	if e.reconnect != nil {
		e.reconnect.Stop()
	}
	if e.HTTP != nil {
		e.HTTP.Close()
	}
	if e.WS != nil {
		e.WS.Close()
	}
}
