package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/store"
)

// Key layout. Every id component is path-escaped so a "/" inside an id can
// never make one session's prefix match another's.
//
//	sess/{sid}                      -> chat.Session
//	msg/{sid}/{mid}                 -> messageRecord
//	user/{embed}/{clientUser}/{sid} -> empty
//	lead/{mid}                      -> lead.Signal
const (
	sessionPrefix = "sess/"
	messagePrefix = "msg/"
	userPrefix    = "user/"
	leadPrefix    = "lead/"
	sequenceKey   = "seq/messages"

	maxConflictRetries = 8
)

func key(prefix string, parts ...string) []byte {
	var b strings.Builder
	b.WriteString(prefix)
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(url.PathEscape(part))
	}
	return []byte(b.String())
}

// messageRecord wraps a message with its persistence order.
type messageRecord struct {
	Seq     uint64       `json:"seq"`
	Message chat.Message `json:"message"`
}

// Store implements store.Store on BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	gc  *gcRunner
}

var _ store.Store = (*Store)(nil)

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open message sequence: %w", err)
	}

	s := &Store{db: db, seq: seq}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	if err := s.seq.Release(); err != nil {
		log.Printf("[store] release message sequence: %v", err)
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on commit conflicts.
// A conflicting writer re-reads state on the next attempt, so at most one
// concurrent creator of a key wins.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}
	}
}

func getJSON(txn *badger.Txn, k []byte, v any) (bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(raw []byte) error {
		return json.Unmarshal(raw, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, raw)
}

func ensureSession(txn *badger.Txn, ref chat.SessionRef, now time.Time) error {
	var existing chat.Session
	found, err := getJSON(txn, key(sessionPrefix, ref.ID), &existing)
	if err != nil || found {
		return err
	}

	session := chat.Session{
		ID:           ref.ID,
		EmbedID:      ref.EmbedID,
		ClientUserID: ref.ClientUserID,
		CreatedAt:    now,
	}
	if err := setJSON(txn, key(sessionPrefix, ref.ID), session); err != nil {
		return err
	}
	if ref.ClientUserID == "" {
		return nil
	}
	return txn.Set(key(userPrefix, ref.EmbedID, ref.ClientUserID, ref.ID), nil)
}

// AppendMessage stores msg, replacing a previous message with the same id.
func (s *Store) AppendMessage(ctx context.Context, ref chat.SessionRef, msg chat.Message) error {
	if ref.ID == "" {
		return chat.ErrSessionRequired
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		if err := ensureSession(txn, ref, now); err != nil {
			return err
		}

		k := key(messagePrefix, ref.ID, msg.ID)
		var rec messageRecord
		found, err := getJSON(txn, k, &rec)
		if err != nil {
			return err
		}
		if found {
			msg.CreatedAt = rec.Message.CreatedAt
			msg.UpdatedAt = &now
			rec.Message = msg
		} else {
			seq, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("next message sequence: %w", err)
			}
			rec = messageRecord{Seq: seq, Message: msg}
		}
		return setJSON(txn, k, rec)
	})
}

// UpdateMessage replaces the content of a stored message.
func (s *Store) UpdateMessage(ctx context.Context, sessionID, messageID, content string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		k := key(messagePrefix, sessionID, messageID)
		var rec messageRecord
		found, err := getJSON(txn, k, &rec)
		if err != nil {
			return err
		}
		if !found {
			return store.ErrMessageNotFound
		}
		if rec.Message.Content == content {
			return nil
		}
		rec.Message.Content = content
		now := time.Now().UTC()
		rec.Message.UpdatedAt = &now
		return setJSON(txn, k, rec)
	})
}

// LoadHistory returns the session's messages in persistence order.
func (s *Store) LoadHistory(_ context.Context, sessionID string) ([]chat.Message, error) {
	var history []chat.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		history, err = loadHistory(txn, sessionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", sessionID, err)
	}
	return history, nil
}

func loadHistory(txn *badger.Txn, sessionID string) ([]chat.Message, error) {
	prefix := append(key(messagePrefix, sessionID), '/')
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
	defer it.Close()

	records := make([]messageRecord, 0, 16)
	for it.Rewind(); it.Valid(); it.Next() {
		var rec messageRecord
		if err := it.Item().Value(func(raw []byte) error {
			return json.Unmarshal(raw, &rec)
		}); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	history := make([]chat.Message, len(records))
	for i, rec := range records {
		history[i] = rec.Message
	}
	return history, nil
}

// DeleteHistory removes every message of the session.
func (s *Store) DeleteHistory(_ context.Context, sessionID string) error {
	prefix := append(key(messagePrefix, sessionID), '/')

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan history %s: %w", sessionID, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete history %s: %w", sessionID, err)
		}
	}
	return wb.Flush()
}

// ListSessions summarises the sessions one widget user started.
func (s *Store) ListSessions(_ context.Context, embedID, clientUserID string, limit, offset int) ([]chat.Summary, error) {
	prefix := append(key(userPrefix, embedID, clientUserID), '/')

	var summaries []chat.Summary
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		var sessionIDs []string
		for it.Rewind(); it.Valid(); it.Next() {
			escaped := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			id, err := url.PathUnescape(escaped)
			if err != nil {
				continue
			}
			sessionIDs = append(sessionIDs, id)
		}
		it.Close()

		for _, id := range sessionIDs {
			var session chat.Session
			found, err := getJSON(txn, key(sessionPrefix, id), &session)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			history, err := loadHistory(txn, id)
			if err != nil {
				return err
			}
			if summary, ok := chat.Summarize(session, history); ok {
				summaries = append(summaries, summary)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return store.PageSummaries(summaries, limit, offset), nil
}
