// Package types defines the wire format of the escrow chain: transaction
// orders submitted by wallets and the receipts and events the chain produces.
// Everything on the wire is deterministic CBOR, the transaction hash is the
// keccak256 of the encoded payload.
package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
)

// Transaction types understood by the stake ledger. Refund and forfeit are
// authority-only authorizations, the rest are wallet transactions.
const (
	TxApprove  = "approve"
	TxTransfer = "transfer"
	TxLock     = "lock"
	TxRefund   = "authorizeRefund"
	TxForfeit  = "authorizeForfeit"
)

type (
	TransactionOrder struct {
		_          struct{} `cbor:",toarray"`
		Payload    *Payload
		OwnerProof []byte
	}

	Payload struct {
		_              struct{} `cbor:",toarray"`
		ChainID        uint64
		Type           string
		From           common.Address
		To             common.Address
		Attributes     []byte
		ClientMetadata *ClientMetadata
	}

	ClientMetadata struct {
		_       struct{} `cbor:",toarray"`
		Timeout uint64
	}
)

var cborEnc, _ = cbor.CoreDetEncOptions().EncMode()

// NewPayload encodes attr and wraps it into a payload addressed to the
// ledger. Timeout is the last round the transaction is still valid in.
func NewPayload(chainID uint64, txType string, from, to common.Address, attr any, timeout uint64) (*Payload, error) {
	attrBytes, err := cborEnc.Marshal(attr)
	if err != nil {
		return nil, fmt.Errorf("encoding %s attributes: %w", txType, err)
	}
	return &Payload{
		ChainID:        chainID,
		Type:           txType,
		From:           from,
		To:             to,
		Attributes:     attrBytes,
		ClientMetadata: &ClientMetadata{Timeout: timeout},
	}, nil
}

func (p *Payload) Bytes() ([]byte, error) {
	if p == nil {
		return nil, errors.New("payload is nil")
	}
	data, err := cborEnc.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}

// Hash is the transaction reference. The owner proof is not part of it, so
// the hash is known before signing and stable after.
func (p *Payload) Hash() (common.Hash, error) {
	data, err := p.Bytes()
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(ethcrypto.Keccak256(data)), nil
}

func (p *Payload) UnmarshalAttributes(v any) error {
	if p == nil {
		return errors.New("payload is nil")
	}
	return cbor.Unmarshal(p.Attributes, v)
}

func (t *TransactionOrder) Hash() (common.Hash, error) {
	if t == nil || t.Payload == nil {
		return common.Hash{}, errors.New("transaction order is nil")
	}
	return t.Payload.Hash()
}

func (t *TransactionOrder) Bytes() ([]byte, error) {
	data, err := cborEnc.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding transaction order: %w", err)
	}
	return data, nil
}

func (t *TransactionOrder) Timeout() uint64 {
	if t == nil || t.Payload == nil || t.Payload.ClientMetadata == nil {
		return 0
	}
	return t.Payload.ClientMetadata.Timeout
}

func DecodeTransactionOrder(data []byte) (*TransactionOrder, error) {
	txo := &TransactionOrder{}
	if err := cbor.Unmarshal(data, txo); err != nil {
		return nil, fmt.Errorf("decoding transaction order: %w", err)
	}
	if txo.Payload == nil {
		return nil, errors.New("transaction order is missing payload")
	}
	return txo, nil
}
