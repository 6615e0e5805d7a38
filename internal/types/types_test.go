package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPayloadHash_StableAndProofIndependent(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	payload, err := NewPayload(1, TxLock, from, to, struct{}{}, 10)
	require.NoError(t, err)

	hash1, err := payload.Hash()
	require.NoError(t, err)
	hash2, err := payload.Hash()
	require.NoError(t, err)
	require.Equal(t, hash1, hash2)

	// the owner proof is not part of the transaction hash
	txo := &TransactionOrder{Payload: payload, OwnerProof: []byte{1, 2, 3}}
	txoHash, err := txo.Hash()
	require.NoError(t, err)
	require.Equal(t, hash1, txoHash)

	// a different payload hashes differently
	other, err := NewPayload(1, TxLock, from, to, struct{}{}, 11)
	require.NoError(t, err)
	otherHash, err := other.Hash()
	require.NoError(t, err)
	require.NotEqual(t, hash1, otherHash)
}

func TestDecodeTransactionOrder(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	payload, err := NewPayload(7, TxApprove, from, to, struct{}{}, 42)
	require.NoError(t, err)
	txo := &TransactionOrder{Payload: payload, OwnerProof: []byte{0xAB}}

	data, err := txo.Bytes()
	require.NoError(t, err)

	decoded, err := DecodeTransactionOrder(data)
	require.NoError(t, err)
	require.Equal(t, uint64(7), decoded.Payload.ChainID)
	require.Equal(t, TxApprove, decoded.Payload.Type)
	require.Equal(t, from, decoded.Payload.From)
	require.Equal(t, to, decoded.Payload.To)
	require.EqualValues(t, 42, decoded.Timeout())
	require.Equal(t, []byte{0xAB}, decoded.OwnerProof)

	_, err = DecodeTransactionOrder([]byte("not cbor"))
	require.Error(t, err)
}
