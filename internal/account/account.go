// Package account turns stored custodial wallets into chain-bound signers.
package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketcore/internal/crypto"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
)

// Account is a wallet bound to one provider. It holds the decrypted key only
// through its signer and lives as long as the operation that bound it.
type Account struct {
	OwnerKind domain.OwnerKind
	OwnerID   string
	Signer    *crypto.Signer
	Client    evm.Client
}

// Address returns the account's address.
func (a *Account) Address() common.Address { return a.Signer.Address() }

// ChainID returns the chain the account is bound to.
func (a *Account) ChainID() *big.Int { return a.Signer.ChainID() }

// Balance returns the native token balance at the latest block.
func (a *Account) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := a.Client.BalanceAt(ctx, a.Address(), nil)
	if err != nil {
		return nil, fmt.Errorf("account: balance of %s: %w", a.Address().Hex(), err)
	}
	return bal, nil
}

// Adapter binds wallets from the wallet store to providers.
type Adapter struct {
	keys    *crypto.KeyManager
	wallets domain.WalletStore
}

// NewAdapter creates an Adapter.
func NewAdapter(keys *crypto.KeyManager, wallets domain.WalletStore) *Adapter {
	return &Adapter{keys: keys, wallets: wallets}
}

// Decrypt opens a sealed wallet secret with the server key.
func (a *Adapter) Decrypt(secret []byte) (*ecdsa.PrivateKey, error) {
	key, err := a.keys.Open(secret)
	if err != nil {
		return nil, fmt.Errorf("account: decrypt: %w", err)
	}
	return key, nil
}

// Bind derives a fresh signer for w on the chain client serves. Every call
// decrypts again; nothing is reused between bindings.
func (a *Adapter) Bind(ctx context.Context, w domain.Wallet, client evm.Client) (*Account, error) {
	key, err := a.Decrypt(w.EncryptedSecret)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: chain id: %w: %v", domain.ErrTransientChain, err)
	}
	signer, err := crypto.NewSigner(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	if w.Address != "" && !strings.EqualFold(signer.Address().Hex(), w.Address) {
		return nil, fmt.Errorf("account: wallet %d: %w: stored address %s does not match key", w.ID, domain.ErrConfiguration, w.Address)
	}
	return &Account{OwnerKind: w.OwnerKind, OwnerID: w.OwnerID, Signer: signer, Client: client}, nil
}

// ForOwner loads the owner's wallet and binds it.
func (a *Adapter) ForOwner(ctx context.Context, kind domain.OwnerKind, ownerID string, client evm.Client) (*Account, error) {
	w, err := a.wallets.GetByOwner(ctx, kind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("account: wallet of %s %s: %w", kind, ownerID, err)
	}
	return a.Bind(ctx, w, client)
}

// Operator binds the operator wallet.
func (a *Adapter) Operator(ctx context.Context, client evm.Client) (*Account, error) {
	w, err := a.wallets.GetOperator(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: operator wallet: %w", err)
	}
	return a.Bind(ctx, w, client)
}

// OperatorAddress returns the operator's address without decrypting its key.
func (a *Adapter) OperatorAddress(ctx context.Context) (common.Address, error) {
	w, err := a.wallets.GetOperator(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("account: operator wallet: %w", err)
	}
	if !common.IsHexAddress(w.Address) {
		return common.Address{}, fmt.Errorf("account: operator wallet: %w: invalid address %q", domain.ErrConfiguration, w.Address)
	}
	return common.HexToAddress(w.Address), nil
}

// Import seals key and stores it as the owner's wallet. Without force an
// owner that already has a wallet keeps it and domain.ErrConflict is
// returned.
func (a *Adapter) Import(ctx context.Context, kind domain.OwnerKind, ownerID string, key *ecdsa.PrivateKey, force bool) (domain.Wallet, error) {
	sealed, addr, err := a.keys.Seal(key)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("account: seal: %w", err)
	}
	w := domain.Wallet{OwnerKind: kind, OwnerID: ownerID, Address: addr.Hex(), EncryptedSecret: sealed}
	if err := a.wallets.Replace(ctx, w, force); err != nil {
		return domain.Wallet{}, fmt.Errorf("account: import wallet of %s %s: %w", kind, ownerID, err)
	}
	stored, err := a.wallets.GetByOwner(ctx, kind, ownerID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("account: wallet of %s %s: %w", kind, ownerID, err)
	}
	return stored, nil
}
