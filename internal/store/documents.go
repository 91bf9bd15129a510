package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/cotale/backend/internal/session"
)

// Document is the durable record a room collaborates on.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerID   string    `json:"owner_id"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryRecord is one append-only entry in a document's edit history. Once
// written it is never mutated or deleted.
type HistoryRecord struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	UserID          string    `json:"user_id"`
	Operation       string    `json:"operation"`
	YjsUpdate       string    `json:"yjs_update,omitempty"`
	ContentSnapshot string    `json:"content_snapshot,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PutDocument writes the document record, stamping CreatedAt on first write.
func (s *Store) PutDocument(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("put document: empty id")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(documentKey(doc.ID), data)
	})
}

// GetDocument fetches a document by id, returning ErrDocumentNotFound when
// no record exists.
func (s *Store) GetDocument(id string) (Document, error) {
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// SetGrant records a collaborator's access level on a document.
func (s *Store) SetGrant(documentID, userID string, level session.Permission) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(grantKey(documentID, userID), []byte(level.String()))
	})
}

// AccessLevel resolves a user's effective permission on a document: the
// owner gets admin, an explicit grant its stored level, a public document
// read, anything else none. ErrDocumentNotFound when the document does not
// exist.
func (s *Store) AccessLevel(documentID, userID string) (session.Permission, error) {
	doc, err := s.GetDocument(documentID)
	if err != nil {
		return session.None, err
	}
	if doc.OwnerID == userID {
		return session.Admin, nil
	}

	var level string
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(grantKey(documentID, userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			level = string(val)
			return nil
		})
	})
	if err == nil {
		return session.ParsePermission(level), nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return session.None, fmt.Errorf("get grant %s/%s: %w", documentID, userID, err)
	}

	if doc.IsPublic {
		return session.Read, nil
	}
	return session.None, nil
}

// UpdateContent replaces the document's content, bumping UpdatedAt. The
// read-modify-write runs in a single transaction.
func (s *Store) UpdateContent(documentID, content string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(documentID))
		if err != nil {
			return err
		}
		var doc Document
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return err
		}
		doc.Content = content
		doc.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return txn.Set(documentKey(documentID), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("update content %s: %w", documentID, err)
	}
	return nil
}

// AppendHistory writes one history record. Keys embed the creation time and
// a fresh id so records for a document iterate in write order.
func (s *Store) AppendHistory(rec HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	key := fmt.Sprintf("hist:%s:%020d:%s", rec.DocumentID, rec.CreatedAt.UnixNano(), rec.ID)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// History returns a document's history records in write order.
func (s *Store) History(documentID string) ([]HistoryRecord, error) {
	prefix := []byte("hist:" + documentID + ":")
	var records []HistoryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec HistoryRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", documentID, err)
	}
	return records, nil
}
