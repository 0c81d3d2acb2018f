package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigratesSchema(t *testing.T) {
	t.Parallel()

	d := OpenTest(t)

	version, dirty, err := d.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, version, uint(1))

	// all four tables exist
	for _, table := range []string{"sessions", "session_events", "gaze_samples", "video_chunks"} {
		var name string
		err := d.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, "missing table %s", table)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reopen.db")

	d1, err := Open(path)
	require.NoError(t, err)
	_, err = d1.Exec(`INSERT INTO sessions (
		session_id, participant_id, experiment_type, mode,
		config_json, display_json, surface_json, status, started_at_ms
	) VALUES ('s1', 'p1', 'reading', 'full-screen', '{}', '{}', '{}', 'recording', 0)`)
	require.NoError(t, err)
	require.NoError(t, d1.Close())

	// reopening re-runs migrations as a no-op and keeps existing data
	d2, err := Open(path)
	require.NoError(t, err)
	defer d2.Close()

	var n int
	require.NoError(t, d2.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestForeignKeysEnforced(t *testing.T) {
	t.Parallel()

	d := OpenTest(t)

	_, err := d.Exec(`INSERT INTO session_events (session_id, kind, system_ts_ms, monotonic_ms)
		VALUES ('no-such-session', 'user_event', 0, 0)`)
	assert.Error(t, err, "orphan event rows must be rejected")
}

func TestPathReportsLocation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "loc.db")
	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, path, d.Path())
}
