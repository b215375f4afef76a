package account_test

import (
	"context"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/account/accounttest"
	"github.com/alanyoungcy/marketcore/internal/crypto"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm/evmtest"
)

func TestBindDerivesSignerForProviderChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wallets := accounttest.NewWallets()
	w, key, err := wallets.Generate(domain.OwnerUser, "alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	adapter := account.NewAdapter(accounttest.Keys(), wallets)

	first, err := adapter.Bind(ctx, w, evmtest.New(100))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if first.Address() != ethcrypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("address=%s want %s", first.Address(), w.Address)
	}
	if first.ChainID().Int64() != 100 {
		t.Fatalf("chain=%s want 100", first.ChainID())
	}

	second, err := adapter.Bind(ctx, w, evmtest.New(200))
	if err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if second.Signer == first.Signer || second.ChainID().Int64() != 200 {
		t.Fatalf("rebinding must derive a new signer for the new chain")
	}
}

func TestDecryptWithoutServerKey(t *testing.T) {
	t.Parallel()

	wallets := accounttest.NewWallets()
	w, _, err := wallets.Generate(domain.OwnerUser, "bob")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	adapter := account.NewAdapter(crypto.NewKeyManager(""), wallets)

	if _, err := adapter.Decrypt(w.EncryptedSecret); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Decrypt err=%v want ErrConfiguration", err)
	}
	if _, err := adapter.Bind(context.Background(), w, evmtest.New(1)); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Bind err=%v want ErrConfiguration", err)
	}
}

func TestBindRejectsAddressMismatch(t *testing.T) {
	t.Parallel()

	wallets := accounttest.NewWallets()
	w, _, err := wallets.Generate(domain.OwnerUser, "carol")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w.Address = "0x0000000000000000000000000000000000000001"
	adapter := account.NewAdapter(accounttest.Keys(), wallets)
	if _, err := adapter.Bind(context.Background(), w, evmtest.New(1)); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Bind err=%v want ErrConfiguration", err)
	}
}

func TestOperatorLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wallets := accounttest.NewWallets()
	adapter := account.NewAdapter(accounttest.Keys(), wallets)
	if _, err := adapter.Operator(ctx, evmtest.New(1)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing operator err=%v want ErrNotFound", err)
	}

	w, _, err := wallets.Generate(domain.OwnerOperator, "operator")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	addr, err := adapter.OperatorAddress(ctx)
	if err != nil || addr.Hex() != w.Address {
		t.Fatalf("OperatorAddress=%s err=%v want %s", addr, err, w.Address)
	}
	if err := wallets.Replace(ctx, w, false); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("unforced replace err=%v want ErrConflict", err)
	}
}

func TestImportReplacesOnlyWhenForced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wallets := accounttest.NewWallets()
	adapter := account.NewAdapter(accounttest.Keys(), wallets)
	old, _, err := wallets.Generate(domain.OwnerUser, "dave")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	want := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	if _, err := adapter.Import(ctx, domain.OwnerUser, "dave", key, false); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("unforced import err=%v want ErrConflict", err)
	}
	if cur, _ := wallets.GetByOwner(ctx, domain.OwnerUser, "dave"); cur.Address != old.Address {
		t.Fatalf("address=%s want unchanged %s", cur.Address, old.Address)
	}

	w, err := adapter.Import(ctx, domain.OwnerUser, "dave", key, true)
	if err != nil {
		t.Fatalf("forced import: %v", err)
	}
	if w.Address != want || w.ID != old.ID {
		t.Fatalf("wallet=%s id=%d want %s id %d", w.Address, w.ID, want, old.ID)
	}
	acct, err := adapter.ForOwner(ctx, domain.OwnerUser, "dave", evmtest.New(100))
	if err != nil {
		t.Fatalf("ForOwner: %v", err)
	}
	if acct.Address().Hex() != want {
		t.Fatalf("bound address=%s want %s", acct.Address().Hex(), want)
	}
}
