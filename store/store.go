// Package store manages the local session journal and the remote
// observation store.
package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vantage-agent/vantage/internal/models"
	"github.com/vantage-agent/vantage/internal/timeutil"
)

const sessionsBucket = "sessions"

var errAgentRunning = errors.New(
	"is Vantage already running? Only one instance can be active at a time",
)

// Client is a BoltDB journal client.
type Client struct {
	*bolt.DB
}

func (c *Client) SaveSession(sess *models.Session) error {
	value, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	return c.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).
			Put(timeutil.ToKey(sess.StartTime), value)
	})
}

func (c *Client) OpenSessions() ([]models.Session, error) {
	var sessions []models.Session

	err := c.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket([]byte(sessionsBucket)).Cursor()

		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var sess models.Session

			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}

			if sess.Open() {
				sessions = append(sessions, sess)
			}
		}

		return nil
	})

	return sessions, err
}

func (c *Client) DeleteSession(sess *models.Session) error {
	return c.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).
			Delete(timeutil.ToKey(sess.StartTime))
	})
}

// openDB creates or opens a database and locks it.
func openDB(pathToDB string) (*bolt.DB, error) {
	var fileMode fs.FileMode = 0o600

	db, err := bolt.Open(
		pathToDB,
		fileMode,
		&bolt.Options{Timeout: 1 * time.Second},
	)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errAgentRunning
		}

		return nil, err
	}

	return db, nil
}

// NewClient returns a wrapper to a BoltDB connection.
func NewClient(dbPath string) (*Client, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err = tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		db,
	}, nil
}
