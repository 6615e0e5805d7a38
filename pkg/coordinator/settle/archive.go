package settle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"
)

var bucketSettlements = []byte("settlements")

type (
	// Archive keeps terminal settlement results. A recorded result is what
	// lets a repeated settlement request short-circuit instead of touching
	// the chain again.
	Archive interface {
		Get(candidate common.Address) (*SettlementResult, error)
		Put(candidate common.Address, result *SettlementResult) error
	}

	MemArchive struct {
		mu      sync.RWMutex
		results map[common.Address]*SettlementResult
	}

	BoltArchive struct {
		db *bolt.DB
	}
)

func NewMemArchive() *MemArchive {
	return &MemArchive{results: map[common.Address]*SettlementResult{}}
}

func (a *MemArchive) Get(candidate common.Address) (*SettlementResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.results[candidate], nil
}

func (a *MemArchive) Put(candidate common.Address, result *SettlementResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[candidate] = result
	return nil
}

func NewBoltArchive(dbFile string) (*BoltArchive, error) {
	if err := os.MkdirAll(filepath.Dir(dbFile), 0700); err != nil { // ensure dirs exist
		return nil, err
	}
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: 3 * time.Second}) // -rw-------
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt DB %s: %w", dbFile, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettlements)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create db buckets: %w", err)
	}
	return &BoltArchive{db: db}, nil
}

func (a *BoltArchive) Close() error {
	return a.db.Close()
}

func (a *BoltArchive) Get(candidate common.Address) (*SettlementResult, error) {
	var result *SettlementResult
	err := a.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettlements).Get(candidate.Bytes())
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("failed to deserialize settlement result: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *BoltArchive) Put(candidate common.Address, result *SettlementResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to serialize settlement result: %w", err)
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettlements).Put(candidate.Bytes(), data)
	})
}
