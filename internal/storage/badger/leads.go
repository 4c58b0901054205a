package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/zhouzirui/embedchat/backend/internal/model/lead"
	"github.com/zhouzirui/embedchat/backend/internal/store"
)

// SaveLead records a lead once per message id.
func (s *Store) SaveLead(ctx context.Context, signal lead.Signal) error {
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		k := key(leadPrefix, signal.MessageID)
		if _, err := txn.Get(k); err == nil {
			return store.ErrLeadExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, k, signal)
	})
}

// Lead returns the lead recorded for a message id.
func (s *Store) Lead(messageID string) (lead.Signal, bool, error) {
	var signal lead.Signal
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, key(leadPrefix, messageID), &signal)
		return err
	})
	return signal, found, err
}
