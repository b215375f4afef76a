// Package crypto seals custodial wallet keys under the server-wide encryption
// key and signs chain transactions with them.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

const (
	// DefaultIterations is the OWASP-recommended minimum for HMAC-SHA256.
	DefaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	currentVersion    = 2
)

// ErrNoServerKey is returned when the server-wide encryption key is unset.
var ErrNoServerKey = fmt.Errorf("%w: server encryption key is not set", domain.ErrConfiguration)

// envelope is the stored format of a sealed wallet key. The wallet address is
// authenticated as additional data so a blob cannot be swapped between wallets.
type envelope struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyManager seals and opens wallet keys with one server key.
type KeyManager struct {
	serverKey  string
	iterations int
}

// NewKeyManager returns a KeyManager. An empty serverKey is accepted; every
// operation then fails with ErrNoServerKey.
func NewKeyManager(serverKey string) *KeyManager {
	return &KeyManager{serverKey: serverKey, iterations: DefaultIterations}
}

// WithIterations overrides the PBKDF2 work factor used when sealing.
func (m *KeyManager) WithIterations(n int) *KeyManager {
	cp := *m
	cp.iterations = n
	return &cp
}

// Seal encrypts key and returns the envelope together with the key's address.
func (m *KeyManager) Seal(key *ecdsa.PrivateKey) ([]byte, common.Address, error) {
	if strings.TrimSpace(m.serverKey) == "" {
		return nil, common.Address{}, ErrNoServerKey
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := m.aead(salt, m.iterations)
	if err != nil {
		return nil, common.Address{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	plain := ethcrypto.FromECDSA(key)
	ciphertext := gcm.Seal(nil, nonce, plain, addr.Bytes())
	clear(plain)

	out, err := json.Marshal(envelope{
		Version:    currentVersion,
		Iterations: m.iterations,
		Address:    addr.Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: encoding envelope: %w", err)
	}
	return out, addr, nil
}

// Open decrypts an envelope produced by Seal.
func (m *KeyManager) Open(sealed []byte) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(m.serverKey) == "" {
		return nil, ErrNoServerKey
	}

	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("crypto: parsing envelope: %w", err)
	}
	if env.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported envelope version %d", env.Version)
	}
	if env.Iterations <= 0 || !common.IsHexAddress(env.Address) {
		return nil, errors.New("crypto: malformed envelope")
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := m.aead(salt, env.Iterations)
	if err != nil {
		return nil, err
	}
	addr := common.HexToAddress(env.Address)
	plain, err := gcm.Open(nil, nonce, ciphertext, addr.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong server key?): %w", err)
	}
	defer clear(plain)

	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key material: %w", err)
	}
	if ethcrypto.PubkeyToAddress(key.PublicKey) != addr {
		return nil, errors.New("crypto: envelope address does not match key")
	}
	return key, nil
}

func (m *KeyManager) aead(salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(m.serverKey), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
