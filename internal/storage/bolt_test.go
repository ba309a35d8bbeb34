package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/stretchr/testify/require"

	"github.com/astraguard/astraguard/internal/errs"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetBaselineRoundTrip(t *testing.T) {
	db := openTestDB(t)

	rec := BaselineRecord{
		SatelliteID:      "sat-1",
		MeanVector:       []float64{1, 2, 3},
		CovarianceMatrix: [][]float64{{1, 0}, {0, 1}},
		SampleCount:      500,
	}
	require.NoError(t, db.PutBaseline(rec))

	got, err := db.GetBaseline("sat-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "sat-1", got.SatelliteID)
	require.Equal(t, []float64{1, 2, 3}, got.MeanVector)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestGetBaselineMissingReturnsNil(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetBaseline("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetBaselineRejectsSchemaVersionMismatch(t *testing.T) {
	db := openTestDB(t)

	stale := BaselineRecord{
		SchemaVersion: BaselineSchemaVersion - 1,
		SatelliteID:   "sat-old",
		MeanVector:    []float64{1, 2, 3},
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)

	require.NoError(t, db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketBaselines)).Put(satelliteKey("sat-old"), data)
	}))

	got, err := db.GetBaseline("sat-old")
	require.Nil(t, got)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindModelLoad))
}

func TestAppendAndReadLedger(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AppendLedger(AuditLedgerEntry{DecisionID: "d1", AnomalyType: "thermal_fault"}))
	require.NoError(t, db.AppendLedger(AuditLedgerEntry{DecisionID: "d2", AnomalyType: "power_fault"}))

	entries, err := db.ReadLedger()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestPruneOldLedgerEntries(t *testing.T) {
	db := openTestDB(t) // retention window = 1 hour

	require.NoError(t, db.AppendLedger(AuditLedgerEntry{
		Timestamp:  time.Now().Add(-2 * time.Hour),
		DecisionID: "stale",
	}))
	require.NoError(t, db.AppendLedger(AuditLedgerEntry{
		Timestamp:  time.Now(),
		DecisionID: "fresh",
	}))

	deleted, err := db.PruneOldLedgerEntries()
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	remaining, err := db.ReadLedger()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "fresh", remaining[0].DecisionID)
}
