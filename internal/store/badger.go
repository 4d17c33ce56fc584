package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Key layout. Per-investigation records live under a shared prefix so listing
// is a single prefix scan.
//
//	inv/<id>                     investigation
//	f/<investigation>/<finding>  finding (zero-padded id preserves order)
//	e/<investigation>/<entity>   entity
//	r/<investigation>/<rel>      relationship
const (
	prefixInvestigation = "inv/"
	prefixFinding       = "f/"
	prefixEntity        = "e/"
	prefixRelationship  = "r/"
)

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	Path       string `yaml:"path" json:"path"`
	InMemory   bool   `yaml:"in_memory" json:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes" json:"sync_writes"`
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		Path:       "data/intelforge",
		SyncWrites: true,
	}
}

// Badger is a Store backed by an embedded BadgerDB.
type Badger struct {
	db     *badger.DB
	logger *zap.Logger
}

// badgerLogger adapts zap to badger's Logger interface.
type badgerLogger struct{ logger *zap.SugaredLogger }

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenBadger opens (creating if necessary) the store at cfg.Path, or an
// in-memory instance when cfg.InMemory is set.
func OpenBadger(cfg BadgerConfig, logger *zap.Logger) (*Badger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(badgerLogger{logger: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Badger{db: db, logger: logger}, nil
}

func (b *Badger) PutInvestigation(ctx context.Context, inv intel.Investigation) error {
	return b.putJSON(ctx, prefixInvestigation+inv.ID, inv)
}

func (b *Badger) GetInvestigation(ctx context.Context, id string) (intel.Investigation, error) {
	var inv intel.Investigation
	err := b.getJSON(ctx, prefixInvestigation+id, &inv)
	return inv, err
}

func (b *Badger) ListInvestigations(ctx context.Context) ([]intel.Investigation, error) {
	var out []intel.Investigation
	err := b.scan(ctx, prefixInvestigation, func(val []byte) error {
		var inv intel.Investigation
		if err := json.Unmarshal(val, &inv); err != nil {
			return fmt.Errorf("decode investigation: %w", err)
		}
		out = append(out, inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (b *Badger) PutFindings(ctx context.Context, findings []intel.Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := b.db.NewWriteBatch()
	defer batch.Cancel()

	for _, f := range findings {
		val, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode finding %d: %w", f.ID, err)
		}
		key := findingKey(f.InvestigationID, f.ID)
		if err := batch.Set([]byte(key), val); err != nil {
			return fmt.Errorf("batch finding %d: %w", f.ID, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("flush findings: %w", err)
	}
	return nil
}

func (b *Badger) ListFindings(ctx context.Context, investigationID string, filter FindingFilter) ([]intel.Finding, error) {
	var out []intel.Finding
	err := b.scan(ctx, prefixFinding+investigationID+"/", func(val []byte) error {
		var f intel.Finding
		if err := json.Unmarshal(val, &f); err != nil {
			return fmt.Errorf("decode finding: %w", err)
		}
		if filter.Match(f) {
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// keys are zero-padded so the scan is already id-ordered
	return out, nil
}

func (b *Badger) UpsertEntity(ctx context.Context, ent intel.Entity) error {
	return b.putJSON(ctx, prefixEntity+ent.InvestigationID+"/"+ent.ID, ent)
}

func (b *Badger) ListEntities(ctx context.Context, investigationID string) ([]intel.Entity, error) {
	var out []intel.Entity
	err := b.scan(ctx, prefixEntity+investigationID+"/", func(val []byte) error {
		var ent intel.Entity
		if err := json.Unmarshal(val, &ent); err != nil {
			return fmt.Errorf("decode entity: %w", err)
		}
		out = append(out, ent)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntities(out)
	return out, nil
}

func (b *Badger) PutRelationship(ctx context.Context, rel intel.Relationship) error {
	return b.putJSON(ctx, prefixRelationship+rel.InvestigationID+"/"+rel.ID, rel)
}

func (b *Badger) ListRelationships(ctx context.Context, investigationID string) ([]intel.Relationship, error) {
	var out []intel.Relationship
	err := b.scan(ctx, prefixRelationship+investigationID+"/", func(val []byte) error {
		var rel intel.Relationship
		if err := json.Unmarshal(val, &rel); err != nil {
			return fmt.Errorf("decode relationship: %w", err)
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

func findingKey(investigationID string, id intel.FindingID) string {
	return fmt.Sprintf("%s%s/%010d", prefixFinding, investigationID, id)
}

func (b *Badger) putJSON(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (b *Badger) getJSON(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return nil
}

func (b *Badger) scan(ctx context.Context, prefix string, fn func(val []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
