package services

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/promptwire/news-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB is the durable local store backing both state stores. It keeps the
// signed-in session and, behind a config flag, the chat list with messages,
// serialized as JSON with timestamps round-tripped through RFC 3339 strings.
type BoltDB struct {
	db *bolt.DB
}

const schemaVersion = 1

var (
	metaBucket    = []byte("meta")
	sessionBucket = []byte("session")
	chatsBucket   = []byte("chats")

	versionKey = []byte("version")
	sessionKey = []byte("current")
)

// ErrSchemaTooNew is returned when the database was written by a newer build
// of this program.
var ErrSchemaTooNew = errors.New("local store schema is newer than this build")

// NewBoltDB opens or creates the local store at path and runs the schema
// migration. The database file is created with 0600 permissions.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	b := BoltDB{db: db}
	if err := b.Migrate(); err != nil {
		return BoltDB{}, err
	}
	return b, nil
}

// Migrate brings the on-disk schema up to the current version. A fresh
// database is stamped with the current version; a database from a newer build
// is rejected rather than guessed at.
func (b BoltDB) Migrate() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, sessionBucket, chatsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(metaBucket)
		raw := meta.Get(versionKey)
		if raw == nil {
			return meta.Put(versionKey, itob(schemaVersion))
		}

		stored := btoi(raw)
		switch {
		case stored > schemaVersion:
			return ErrSchemaTooNew
		case stored < schemaVersion:
			// No older schema versions exist yet; stamping is the whole migration.
			return meta.Put(versionKey, itob(schemaVersion))
		}
		return nil
	})
}

// Reset drops every bucket and recreates them empty. It is the explicit
// corrupt-data recovery path; callers invoke it when stored payloads no
// longer decode.
func (b BoltDB) Reset() error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			return tx.DeleteBucket(name)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to drop buckets: %w", err)
	}
	return b.Migrate()
}

// SaveSession stores the durable authentication state, replacing any previous
// session.
func (b BoltDB) SaveSession(session models.Session) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		return tx.Bucket(sessionBucket).Put(sessionKey, v)
	})
}

// Session retrieves the stored authentication state. The second return value
// reports whether a session was present at all.
func (b BoltDB) Session() (models.Session, bool, error) {
	var session models.Session
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get(sessionKey)
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return models.Session{}, false, err
	}
	return session, found, nil
}

// DeleteSession removes the stored authentication state.
func (b BoltDB) DeleteSession() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(sessionKey)
	})
}

// SaveChats replaces the stored chat list with the given one, preserving its
// order. Each chat record carries its messages.
func (b BoltDB) SaveChats(chats []models.Chat) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(chatsBucket); err != nil {
			return fmt.Errorf("failed to clear chats bucket: %w", err)
		}
		bkt, err := tx.CreateBucket(chatsBucket)
		if err != nil {
			return fmt.Errorf("failed to recreate chats bucket: %w", err)
		}

		for i, chat := range chats {
			v, err := json.Marshal(chat)
			if err != nil {
				return fmt.Errorf("failed to marshal chat: %w", err)
			}
			if err := bkt.Put(itob(uint64(i)), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Chats retrieves the stored chat list in its saved order.
func (b BoltDB) Chats() ([]models.Chat, error) {
	var chats []models.Chat
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chatsBucket).ForEach(func(_, v []byte) error {
			var chat models.Chat
			if err := json.Unmarshal(v, &chat); err != nil {
				return fmt.Errorf("failed to unmarshal chat: %w", err)
			}
			chats = append(chats, chat)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return chats, nil
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func itob(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func btoi(buf []byte) uint64 {
	if len(buf) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf)
}
