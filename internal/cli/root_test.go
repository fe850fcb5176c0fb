package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "blackboards", cmd.Use)

	flag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"serve"}, {"migrate"}, {"sweep"}, {"seed"}, {"leaderboard", "import"}, {"mailer"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestRequiredFileFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"seed"}, {"leaderboard", "import"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		flag := sub.Flags().Lookup("file")
		require.NotNil(t, flag)
		assert.Equal(t, "f", flag.Shorthand)
	}
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sessions:
  - title: Intro to Go
    start_time: 2026-11-02T18:30:00Z
    capacity: 30
  - title: Lightning talks
    start_time: 2026-11-09T18:30:00Z
    capacity: 12
`), 0o600))

	seed, err := loadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seed.Sessions, 2)
	assert.Equal(t, "Intro to Go", seed.Sessions[0].Title)
	assert.Equal(t, time.Date(2026, 11, 2, 18, 30, 0, 0, time.UTC), seed.Sessions[0].StartTime.UTC())
	assert.Equal(t, 12, seed.Sessions[1].Capacity)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("sessions: []\n"), 0o600))
	_, err = loadSeedFile(empty)
	assert.Error(t, err)

	_, err = loadSeedFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// run executes the root command against a throwaway SQLite database.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "bb.db"))
	t.Setenv("NOTIFIER", "log")
	t.Setenv("LOG_LEVEL", "error")

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sessions:
  - title: Intro to Go
    start_time: 2030-01-01T18:00:00Z
    capacity: 5
`), 0o600))

	out, err := run(t, "seed", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "created session 1: Intro to Go")
}

func TestSeedRejectsInvalidSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sessions:
  - title: No seats
    start_time: 2030-01-01T18:00:00Z
    capacity: 0
`), 0o600))

	_, err := run(t, "seed", "--file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No seats")
}

func TestSweepCommand(t *testing.T) {
	out, err := run(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "swept 0 pending request(s)")
}

func TestLeaderboardImportCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.csv")
	require.NoError(t, os.WriteFile(path, []byte("alice,10\nbob,7\n"), 0o600))

	out, err := run(t, "leaderboard", "import", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 leaderboard entries")
}

func TestInvalidConfigFailsEarly(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
}
