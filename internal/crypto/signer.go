package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions for one address on one chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	txSigner   types.Signer
}

// NewSigner binds a private key to a chain id.
func NewSigner(key *ecdsa.PrivateKey, chainID *big.Int) (*Signer, error) {
	if key == nil {
		return nil, errors.New("crypto/signer: nil private key")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("crypto/signer: invalid chain id %v", chainID)
	}
	id := new(big.Int).Set(chainID)
	return &Signer{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:    id,
		txSigner:   types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address { return s.address }

// ChainID returns the chain the signer is bound to.
func (s *Signer) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// SignTx signs tx for the bound chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.txSigner, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}
