// Package bboltdb keeps authorization codes in an embedded bbolt file for
// single node deployments.
package bboltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/crypto"
)

const codesBucket = "authcodes"

// CodeStore implements domain.AuthorizationCodeStore on top of bbolt.
type CodeStore struct {
	db              *bbolt.DB
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
	now             func() time.Time
}

// NewCodeStore opens (or creates) the database at dbPath. A positive
// cleanupInterval starts a background sweep of expired codes.
func NewCodeStore(dbPath string, cleanupInterval time.Duration) (*CodeStore, error) {
	// Ensure the directory for the database file exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(codesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", codesBucket, err)
	}

	s := &CodeStore{
		db:              db,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	if cleanupInterval > 0 {
		go s.runCleanupLoop()
	}

	log.Info().Str("path", dbPath).Msg("bbolt code store opened")

	return s, nil
}

// SaveAuthorizationGrant implements domain.AuthorizationCodeStore.
func (s *CodeStore) SaveAuthorizationGrant(_ context.Context, grant *domain.AuthorizationGrant) error {
	if grant.Code == "" {
		return errors.New("auth code value cannot be empty")
	}

	g := *grant
	g.Used = false

	value, err := json.Marshal(&g)
	if err != nil {
		return fmt.Errorf("failed to encode authorization grant: %w", err)
	}

	key := []byte(crypto.HashToken(grant.Code))

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(codesBucket))
		if b.Get(key) != nil {
			return domain.ErrDuplicate
		}
		return b.Put(key, value)
	})
}

// ConsumeAuthorizationGrant implements domain.AuthorizationCodeStore. bbolt
// serializes writers, so the read and the used flag flip happen atomically.
func (s *CodeStore) ConsumeAuthorizationGrant(_ context.Context, code string) (*domain.AuthorizationGrant, error) {
	key := []byte(crypto.HashToken(code))

	var grant domain.AuthorizationGrant
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(codesBucket))

		raw := b.Get(key)
		if raw == nil {
			return domain.ErrNotFound
		}
		if err := json.Unmarshal(raw, &grant); err != nil {
			return fmt.Errorf("failed to decode authorization grant: %w", err)
		}
		if grant.Used {
			return domain.ErrAlreadyConsumed
		}

		grant.Used = true
		updated, err := json.Marshal(&grant)
		if err != nil {
			return fmt.Errorf("failed to encode authorization grant: %w", err)
		}
		return b.Put(key, updated)
	})
	if err != nil {
		return nil, err
	}

	grant.Code = code

	return &grant, nil
}

// cleanup deletes every code whose expiry has passed.
func (s *CodeStore) cleanup() (int, error) {
	now := s.now()
	deleted := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(codesBucket)).Cursor()
		for k, v := c.First(); k != nil; {
			var grant domain.AuthorizationGrant
			if err := json.Unmarshal(v, &grant); err != nil || grant.Expired(now) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
				// Delete moves the cursor to the next item
				k, v = c.Seek(k)
				continue
			}
			k, v = c.Next()
		}
		return nil
	})

	return deleted, err
}

func (s *CodeStore) runCleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.cleanup()
			if err != nil {
				log.Error().Err(err).Msg("failed to clean up expired authorization codes")
				continue
			}
			if n > 0 {
				log.Debug().Int("count", n).Msg("expired authorization codes removed")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup routine and closes the database.
func (s *CodeStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		err = s.db.Close()
	})
	return err
}

var _ domain.AuthorizationCodeStore = (*CodeStore)(nil)
