package chain

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/stakegate/stakegate/internal/types"
)

var (
	bucketReceipts = []byte("receipts")
	bucketEvents   = []byte("events")
	bucketMeta     = []byte("meta")

	keyRoundNumber = []byte("roundNumber")
)

// BoltStore persists receipts and the event log so the audit trail survives
// node restarts.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(dbFile string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbFile), 0700); err != nil { // ensure dirs exist
		return nil, err
	}
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: 3 * time.Second}) // -rw-------
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt DB %s: %w", dbFile, err)
	}
	s := &BoltStore{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketReceipts, bucketEvents, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create db buckets: %w", err)
	}
	return s, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) PutReceipt(receipt *types.Receipt) error {
	data, err := cbor.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to serialize receipt: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReceipts).Put(receipt.TxHash.Bytes(), data)
	})
}

func (s *BoltStore) Receipt(txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReceipts).Get(txHash.Bytes())
		if data == nil {
			return nil
		}
		if err := cbor.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("failed to deserialize receipt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// PutEvents appends events to the candidate's log. Key layout is candidate
// address followed by the big-endian block number and the tx hash so a
// prefix scan returns the events in finality order.
func (s *BoltStore) PutEvents(events []*types.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		for _, e := range events {
			data, err := cbor.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to serialize event: %w", err)
			}
			if err := bucket.Put(eventKey(e), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) EventsByCandidate(candidate common.Address, fromBlock uint64) ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		prefix := candidate.Bytes()
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			event := &types.Event{}
			if err := cbor.Unmarshal(v, event); err != nil {
				return fmt.Errorf("failed to deserialize event: %w", err)
			}
			if event.BlockNumber >= fromBlock {
				events = append(events, event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *BoltStore) RoundNumber() (uint64, error) {
	var round uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyRoundNumber); data != nil {
			round = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return round, nil
}

func (s *BoltStore) SetRoundNumber(round uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, round)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyRoundNumber, data)
	})
}

func eventKey(e *types.Event) []byte {
	key := make([]byte, 0, common.AddressLength+8+common.HashLength)
	key = append(key, e.Candidate.Bytes()...)
	block := make([]byte, 8)
	binary.BigEndian.PutUint64(block, e.BlockNumber)
	key = append(key, block...)
	return append(key, e.TxHash.Bytes()...)
}
