// Package archive keeps views of terminated transactions in a bolt file so
// they remain queryable after a purge or a restart.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/boltdb/bolt"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/transfer"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrClosed = errors.New("archive: closed")

const bucketTransactions = "transactions"

type Bolt struct {
	db   *bolt.DB
	path string
}

// Open creates or opens the archive at path. A leading ~ is expanded.
func Open(path string) (*Bolt, error) {
	p, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("archive: expand %q: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("archive: create dir: %w", err)
	}
	db, err := bolt.Open(p, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("archive: open %q: %w", p, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketTransactions))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: create bucket: %w", err)
	}
	log.Info().Msgf("archive.Open ok path=%s", p)
	return &Bolt{db: db, path: p}, nil
}

func (a *Bolt) Path() string {
	return a.path
}

// Put stores v under its transaction id, replacing an earlier view.
func (a *Bolt) Put(v transfer.View) error {
	b, err := json.Marshal(&v)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", v.ID, err)
	}
	return a.update(func(bk *bolt.Bucket) error {
		return bk.Put([]byte(v.ID.String()), b)
	})
}

func (a *Bolt) Get(id pdu.TransactionID) (transfer.View, bool, error) {
	var (
		v     transfer.View
		found bool
	)
	err := a.view(func(bk *bolt.Bucket) error {
		raw := bk.Get([]byte(id.String()))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &v)
	})
	if err != nil {
		return transfer.View{}, false, fmt.Errorf("archive: get %s: %w", id, err)
	}
	return v, found, nil
}

// List returns every archived view ordered by creation time.
func (a *Bolt) List() ([]transfer.View, error) {
	var out []transfer.View
	err := a.view(func(bk *bolt.Bucket) error {
		return bk.ForEach(func(k, raw []byte) error {
			var v transfer.View
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].ID.Source != out[j].ID.Source {
			return out[i].ID.Source < out[j].ID.Source
		}
		return out[i].ID.Sequence < out[j].ID.Sequence
	})
	return out, nil
}

// Delete removes id; a missing id is not an error.
func (a *Bolt) Delete(id pdu.TransactionID) error {
	return a.update(func(bk *bolt.Bucket) error {
		return bk.Delete([]byte(id.String()))
	})
}

func (a *Bolt) Close() error {
	return a.db.Close()
}

func (a *Bolt) update(fn func(*bolt.Bucket) error) error {
	err := a.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket([]byte(bucketTransactions)))
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func (a *Bolt) view(fn func(*bolt.Bucket) error) error {
	err := a.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket([]byte(bucketTransactions)))
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
