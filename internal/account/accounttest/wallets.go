// Package accounttest provides an in-memory wallet store and wallet
// factory for tests.
package accounttest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketcore/internal/crypto"
	"github.com/alanyoungcy/marketcore/internal/domain"
)

// ServerKey is the encryption key test wallets are sealed with.
const ServerKey = "test-server-key"

// Keys returns a cheap KeyManager for tests.
func Keys() *crypto.KeyManager {
	return crypto.NewKeyManager(ServerKey).WithIterations(1)
}

// Wallets is an in-memory domain.WalletStore.
type Wallets struct {
	mu   sync.Mutex
	byID map[string]domain.Wallet
	next int64
}

// NewWallets returns an empty store.
func NewWallets() *Wallets {
	return &Wallets{byID: make(map[string]domain.Wallet)}
}

// Generate creates, seals and stores a fresh wallet for the owner.
func (s *Wallets) Generate(kind domain.OwnerKind, ownerID string) (domain.Wallet, *ecdsa.PrivateKey, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return domain.Wallet{}, nil, err
	}
	sealed, addr, err := Keys().Seal(key)
	if err != nil {
		return domain.Wallet{}, nil, err
	}
	w := domain.Wallet{OwnerKind: kind, OwnerID: ownerID, Address: addr.Hex(), EncryptedSecret: sealed}
	if err := s.Create(context.Background(), w); err != nil {
		return domain.Wallet{}, nil, err
	}
	w, _ = s.GetByOwner(context.Background(), kind, ownerID)
	return w, key, nil
}

func (s *Wallets) GetByOwner(_ context.Context, kind domain.OwnerKind, ownerID string) (domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byID[key(kind, ownerID)]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (s *Wallets) GetOperator(ctx context.Context) (domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.byID {
		if w.OwnerKind == domain.OwnerOperator {
			return w, nil
		}
	}
	return domain.Wallet{}, domain.ErrNotFound
}

func (s *Wallets) Create(_ context.Context, w domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(w.OwnerKind, w.OwnerID)
	if _, ok := s.byID[k]; ok {
		return domain.ErrAlreadyExists
	}
	s.next++
	w.ID = s.next
	s.byID[k] = w
	return nil
}

func (s *Wallets) Replace(_ context.Context, w domain.Wallet, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(w.OwnerKind, w.OwnerID)
	cur, ok := s.byID[k]
	if ok && !force {
		return domain.ErrConflict
	}
	if ok {
		w.ID = cur.ID
	} else {
		s.next++
		w.ID = s.next
	}
	s.byID[k] = w
	return nil
}

func key(kind domain.OwnerKind, ownerID string) string {
	return fmt.Sprintf("%s/%s", kind, ownerID)
}
