package store

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/sentrygrid/incidentops/pkg/incident"
	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
)

var (
	incidentsBucket    = []byte("incidents")
	fingerprintsBucket = []byte("fingerprints")
)

// Embedded is the embedded-kv backend (spec.md §6 storage.backend). It uses
// a single bbolt.DB transaction per write so the primary incident record
// and the fingerprint index update land atomically together, satisfying
// the dual-write atomicity requirement in spec.md §4.1 / §5 without a
// write-ahead log — bbolt's own transaction log already gives us that.
type Embedded struct {
	db *bolt.DB
}

// OpenEmbedded opens (creating if necessary) a bbolt database at path with
// the two buckets this backend needs.
func OpenEmbedded(path string) (*Embedded, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("embedded-kv", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(incidentsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(fingerprintsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, apperrors.NewBackendUnavailableError("embedded-kv", err)
	}
	return &Embedded{db: db}, nil
}

func (e *Embedded) Close() error {
	return e.db.Close()
}

type fingerprintIndex struct {
	IDs []string `json:"ids"`
}

func (e *Embedded) Save(_ context.Context, inc *incident.Incident) error {
	snap := inc.Clone()
	data, err := json.Marshal(snap)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal incident")
	}

	err = e.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(incidentsBucket).Put([]byte(snap.ID), data); err != nil {
			return err
		}
		if snap.HasFingerprint {
			return addFingerprintEntry(tx, snap.Fingerprint.Hex(), snap.ID)
		}
		return nil
	})
	if err != nil {
		return apperrors.NewBackendUnavailableError("embedded-kv", err)
	}
	return nil
}

func (e *Embedded) Get(_ context.Context, id string) (*incident.Incident, error) {
	var out incident.Incident
	found := false
	err := e.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(incidentsBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("embedded-kv", err)
	}
	if !found {
		return nil, apperrors.NewNotFoundError("incident")
	}
	return &out, nil
}

func (e *Embedded) Update(ctx context.Context, inc *incident.Incident) error {
	existing, err := e.Get(ctx, inc.ID)
	if err != nil {
		return err
	}
	if len(inc.Timeline) < len(existing.Timeline) {
		return apperrors.NewValidationError("update would shrink the append-only timeline")
	}
	return e.Save(ctx, inc)
}

func (e *Embedded) Delete(_ context.Context, id string) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(incidentsBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		var existing incident.Incident
		if err := json.Unmarshal(data, &existing); err != nil {
			return err
		}
		if err := tx.Bucket(incidentsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		if existing.HasFingerprint {
			return removeFingerprintEntry(tx, existing.Fingerprint.Hex(), id)
		}
		return nil
	})
	if err != nil {
		return apperrors.NewBackendUnavailableError("embedded-kv", err)
	}
	return nil
}

func (e *Embedded) List(_ context.Context, filter Filter, page Page) ([]*incident.Incident, error) {
	var matched []*incident.Incident
	err := e.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(incidentsBucket).ForEach(func(_, data []byte) error {
			var inc incident.Incident
			if err := json.Unmarshal(data, &inc); err != nil {
				return err
			}
			if filter.matches(&inc) {
				matched = append(matched, &inc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("embedded-kv", err)
	}
	sortByCreatedDesc(matched)
	return clampPage(matched, page), nil
}

func (e *Embedded) Count(_ context.Context, filter Filter) (int, error) {
	count := 0
	err := e.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(incidentsBucket).ForEach(func(_, data []byte) error {
			var inc incident.Incident
			if err := json.Unmarshal(data, &inc); err != nil {
				return err
			}
			if filter.matches(&inc) {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, apperrors.NewBackendUnavailableError("embedded-kv", err)
	}
	return count, nil
}

func (e *Embedded) FindByFingerprint(_ context.Context, fp incident.Fingerprint) ([]*incident.Incident, error) {
	var ids []string
	err := e.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(fingerprintsBucket).Get([]byte(fp.Hex()))
		if data == nil {
			return nil
		}
		var idx fingerprintIndex
		if err := json.Unmarshal(data, &idx); err != nil {
			return err
		}
		ids = idx.IDs
		return nil
	})
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("embedded-kv", err)
	}

	out := make([]*incident.Incident, 0, len(ids))
	for _, id := range ids {
		inc, err := e.Get(context.Background(), id)
		if err != nil {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

func addFingerprintEntry(tx *bolt.Tx, hex, id string) error {
	bucket := tx.Bucket(fingerprintsBucket)
	idx, err := readFingerprintIndex(bucket, hex)
	if err != nil {
		return err
	}
	idx.IDs = appendUnique(idx.IDs, id)
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(hex), data)
}

func removeFingerprintEntry(tx *bolt.Tx, hex, id string) error {
	bucket := tx.Bucket(fingerprintsBucket)
	idx, err := readFingerprintIndex(bucket, hex)
	if err != nil {
		return err
	}
	idx.IDs = removeID(idx.IDs, id)
	if len(idx.IDs) == 0 {
		return bucket.Delete([]byte(hex))
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(hex), data)
}

func readFingerprintIndex(bucket *bolt.Bucket, hex string) (fingerprintIndex, error) {
	var idx fingerprintIndex
	data := bucket.Get([]byte(hex))
	if data == nil {
		return idx, nil
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return idx, fmt.Errorf("decode fingerprint index for %s: %w", hex, err)
	}
	return idx, nil
}
