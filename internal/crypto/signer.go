package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type (
	// Signer produces recoverable secp256k1 signatures over 32 byte digests.
	// The settlement authority and candidate wallets are both Signers, the
	// ledger recovers the caller identity from the signature alone.
	Signer interface {
		SignHash(hash []byte) ([]byte, error)
		Address() common.Address
	}

	// InMemorySecp256K1Signer keeps the private key in process memory.
	// Suitable for the settlement authority of a single node deployment and
	// for tests; hardware or threshold signing can replace it behind the
	// same interface.
	InMemorySecp256K1Signer struct {
		key  *ecdsa.PrivateKey
		addr common.Address
	}
)

func NewInMemorySecp256K1Signer() (*InMemorySecp256K1Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return &InMemorySecp256K1Signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func NewInMemorySecp256K1SignerFromKey(privKey []byte) (*InMemorySecp256K1Signer, error) {
	key, err := crypto.ToECDSA(privKey)
	if err != nil {
		return nil, fmt.Errorf("invalid secp256k1 private key: %w", err)
	}
	return &InMemorySecp256K1Signer{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *InMemorySecp256K1Signer) SignHash(hash []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, fmt.Errorf("signer is not initialized")
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("signing hash: %w", err)
	}
	return sig, nil
}

func (s *InMemorySecp256K1Signer) Address() common.Address {
	return s.addr
}

// RecoverAddress returns the address of the key that produced sig over hash.
func RecoverAddress(hash, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
