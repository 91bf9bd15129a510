package store

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUserNotFound     = errors.New("user not found")
)

// Store is the durable side of the system: documents, collaborator grants,
// users, and the append-only edit history, all in one embedded BadgerDB.
// Values are JSON; keys are prefixed per record kind.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func userKey(id string) []byte     { return []byte("user:" + id) }
func documentKey(id string) []byte { return []byte("doc:" + id) }

func grantKey(documentID, userID string) []byte {
	return []byte("grant:" + documentID + ":" + userID)
}
