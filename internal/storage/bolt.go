// Package storage — bolt.go
//
// BoltDB-backed persistent storage for AstraGuard.
//
// Schema (BoltDB bucket layout):
//
//	/baselines
//	    key:   sha256(satellite_id)  [32 bytes hex-encoded = 64 chars]
//	    value: JSON-encoded BaselineRecord
//
//	/ledger
//	    key:   RFC3339Nano timestamp + "_" + decision_id  [sortable]
//	    value: JSON-encoded AuditLedgerEntry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Ledger entries older than RetentionWindow are pruned on startup and
//     periodically by the retention goroutine (every 6 hours, per §4.9).
//   - Baselines are never pruned; neither startup nor the retention
//     goroutine deletes them.
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The service logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error. The caller logs the
//     error and continues without persisting — the ledger is
//     best-effort and never blocks the decision path (§4.9).
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/astraguard/astraguard/internal/errs"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/astraguard/astraguard.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// BaselineSchemaVersion is the current BaselineRecord envelope version
	// (§4.8). A stored record whose SchemaVersion differs is a ModelLoadError
	// — it may have been written by an incompatible version of the native
	// detector and must not be loaded blindly.
	BaselineSchemaVersion = 1

	// DefaultRetentionWindow is the default audit ledger retention
	// period (§4.9).
	DefaultRetentionWindow = 6 * time.Hour

	bucketBaselines = "baselines"
	bucketLedger    = "ledger"
	bucketMeta      = "meta"
)

// BaselineRecord is the persisted form of a satellite's native-detector
// baseline (§4.8). Stored as JSON in the baselines bucket.
type BaselineRecord struct {
	SchemaVersion    int         `json:"schema_version"`
	SatelliteID      string      `json:"satellite_id"`
	MeanVector       []float64   `json:"mean_vector"`
	CovarianceMatrix [][]float64 `json:"covariance_matrix"`
	SampleCount      int         `json:"sample_count"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// AuditLedgerEntry is a single durable audit record mirroring the fields
// of an AnomalyDecision that matter for post-hoc investigation (§3a).
// This durable ledger supplements, and never replaces, the mandatory
// in-memory decision history.
type AuditLedgerEntry struct {
	Timestamp         time.Time `json:"timestamp"`
	DecisionID        string    `json:"decision_id"`
	AnomalyType       string    `json:"anomaly_type"`
	SeverityScore     float64   `json:"severity_score"`
	MissionPhase      string    `json:"mission_phase"`
	RecommendedAction string    `json:"recommended_action"`
	EscalationLevel   string    `json:"escalation_level"`
	ShouldEscalate    bool      `json:"should_escalate"`

	// DecisionHash and ParentHash form the tamper-evident chain produced
	// by the governance guard. Empty when the guard is not wired in.
	DecisionHash string `json:"decision_hash,omitempty"`
	ParentHash   string `json:"parent_hash,omitempty"`
}

// DB wraps a BoltDB instance with typed accessors for AstraGuard data.
type DB struct {
	db              *bolt.DB
	retentionWindow time.Duration
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
func Open(path string, retentionWindow time.Duration) (*DB, error) {
	if retentionWindow <= 0 {
		retentionWindow = DefaultRetentionWindow
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionWindow: retentionWindow}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketBaselines, bucketLedger, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, service requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Baseline operations ───────────────────────────────────────────────

func satelliteKey(satelliteID string) []byte {
	h := sha256.Sum256([]byte(satelliteID))
	key := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(key, h[:])
	return key
}

// PutBaseline writes or updates a baseline record for a satellite.
func (d *DB) PutBaseline(rec BaselineRecord) error {
	rec.SchemaVersion = BaselineSchemaVersion
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutBaseline marshal: %w", err)
	}

	key := satelliteKey(rec.SatelliteID)
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBaselines))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("PutBaseline bolt.Put: %w", err)
		}
		return nil
	})
}

// GetBaseline retrieves the baseline record for a satellite.
// Returns (nil, nil) if no baseline exists for this satellite. Returns a
// ModelLoadError if the stored record's schema_version does not match
// BaselineSchemaVersion (§4.8) — an old or incompatible baseline must never
// be loaded silently.
func (d *DB) GetBaseline(satelliteID string) (*BaselineRecord, error) {
	key := satelliteKey(satelliteID)
	var rec BaselineRecord
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBaselines))
		data := b.Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetBaseline(%q): %w", satelliteID, err)
	}
	if !found {
		return nil, nil
	}
	if rec.SchemaVersion != BaselineSchemaVersion {
		return nil, errs.ModelLoad("storage.GetBaseline", fmt.Errorf(
			"satellite %q: baseline schema_version %d does not match required %d",
			satelliteID, rec.SchemaVersion, BaselineSchemaVersion))
	}
	return &rec, nil
}

// ─── Ledger operations ──────────────────────────────────────────────────

// ledgerKey constructs a sortable BoltDB key: RFC3339Nano + "_" + decision_id.
// Lexicographic sort = chronological sort.
func ledgerKey(t time.Time, decisionID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), decisionID))
}

// AppendLedger writes a new audit ledger entry. Best-effort: callers
// should log failures and continue rather than fail the decision path.
func (d *DB) AppendLedger(entry AuditLedgerEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("AppendLedger marshal: %w", err)
	}

	key := ledgerKey(entry.Timestamp, entry.DecisionID)
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendLedger bolt.Put: %w", err)
		}
		return nil
	})
}

// PruneOldLedgerEntries deletes ledger entries older than the retention
// window. Called on startup and periodically by the retention goroutine
// (§4.9). Returns the number of entries deleted.
func (d *DB) PruneOldLedgerEntries() (int, error) {
	cutoff := time.Now().UTC().Add(-d.retentionWindow)
	cutoffKey := ledgerKey(cutoff, "")

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldLedgerEntries delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadLedger returns all ledger entries in chronological order. For
// operational inspection; not called on the decision hot path.
func (d *DB) ReadLedger() ([]AuditLedgerEntry, error) {
	var entries []AuditLedgerEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.ForEach(func(_, v []byte) error {
			var entry AuditLedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

// RunRetentionLoop periodically prunes ledger entries older than the
// retention window until ctx is cancelled.
func (d *DB) RunRetentionLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = d.PruneOldLedgerEntries()
		case <-ctx.Done():
			return
		}
	}
}
