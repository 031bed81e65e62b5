package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "homeworkbot/pkg/logx"
)

func sampleEntry(id string) AuditEntry {
	return AuditEntry{
		At:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CycleID:     id,
		Result:      "notified",
		Submission:  "task1",
		Status:      "reviewing",
		Decision:    "first_observation",
		Delivered:   true,
		WindowStart: 1700000000,
		TookMS:      42,
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestFileStoreAppends(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "journal.db")}, logx.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, sampleEntry("a")))
	fault := AuditEntry{CycleID: "b", Result: "fault", Fault: "transport_error", Error: "fetch: transport_error"}
	require.NoError(t, st.AppendAudit(ctx, fault))
	require.NoError(t, st.Close())

	f, err := os.Open(filepath.Join(dir, "journal.audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		got = append(got, e)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)
	assert.Equal(t, sampleEntry("a"), got[0])
	assert.Equal(t, "transport_error", got[1].Fault)
	assert.False(t, got[1].At.IsZero(), "zero timestamps are filled in")

	assert.ErrorIs(t, st.AppendAudit(ctx, fault), ErrClosed)
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, err := Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestSQLiteStoreAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, sampleEntry("a")))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{CycleID: "b", Result: "empty", WindowStart: 1}))

	db := st.(*sqliteStore).db
	var (
		n         int
		delivered int
		status    string
	)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT delivered, status FROM audit WHERE cycle_id = ?`, "a").Scan(&delivered, &status))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, "reviewing", status)
}

func TestSQLiteMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	for i := 0; i < 2; i++ {
		st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		require.NoError(t, err)
		require.NoError(t, st.AppendAudit(context.Background(), sampleEntry("x")))
		require.NoError(t, st.Close())
	}
}
