package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL. The operator
// wallet is the one owned by operatorID.
type WalletStore struct {
	pool       *pgxpool.Pool
	operatorID string
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool, operatorID string) *WalletStore {
	return &WalletStore{pool: pool, operatorID: operatorID}
}

const walletCols = `id, owner_kind, owner_id, address, encrypted_secret, created_at, updated_at`

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	var kind string
	err := row.Scan(&w.ID, &kind, &w.OwnerID, &w.Address, &w.EncryptedSecret, &w.CreatedAt, &w.UpdatedAt)
	w.OwnerKind = domain.OwnerKind(kind)
	return w, err
}

// GetByOwner returns the wallet of one owner.
func (s *WalletStore) GetByOwner(ctx context.Context, kind domain.OwnerKind, ownerID string) (domain.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletCols+` FROM wallets WHERE owner_kind = $1 AND owner_id = $2`, string(kind), ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wallet{}, fmt.Errorf("postgres: wallet of %s %s: %w", kind, ownerID, domain.ErrNotFound)
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet of %s %s: %w", kind, ownerID, err)
	}
	return w, nil
}

// GetOperator returns the operator wallet.
func (s *WalletStore) GetOperator(ctx context.Context) (domain.Wallet, error) {
	return s.GetByOwner(ctx, domain.OwnerOperator, s.operatorID)
}

// Create stores a new wallet. An owner that already has one yields
// domain.ErrAlreadyExists.
func (s *WalletStore) Create(ctx context.Context, w domain.Wallet) error {
	const query = `
		INSERT INTO wallets (owner_kind, owner_id, address, encrypted_secret)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, string(w.OwnerKind), w.OwnerID, w.Address, w.EncryptedSecret); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: wallet of %s %s: %w", w.OwnerKind, w.OwnerID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create wallet: %w", err)
	}
	return nil
}

// Replace stores w as the owner's wallet. Without force an existing wallet
// is left untouched and domain.ErrConflict is returned.
func (s *WalletStore) Replace(ctx context.Context, w domain.Wallet, force bool) error {
	query := `
		INSERT INTO wallets (owner_kind, owner_id, address, encrypted_secret)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_kind, owner_id) DO NOTHING`
	if force {
		query = `
			INSERT INTO wallets (owner_kind, owner_id, address, encrypted_secret)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner_kind, owner_id) DO UPDATE SET
				address          = EXCLUDED.address,
				encrypted_secret = EXCLUDED.encrypted_secret,
				updated_at       = NOW()`
	}
	tag, err := s.pool.Exec(ctx, query, string(w.OwnerKind), w.OwnerID, w.Address, w.EncryptedSecret)
	if err != nil {
		return fmt.Errorf("postgres: replace wallet of %s %s: %w", w.OwnerKind, w.OwnerID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: wallet of %s %s in use: %w", w.OwnerKind, w.OwnerID, domain.ErrConflict)
	}
	return nil
}
