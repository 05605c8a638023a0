package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "papertrader")
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pt.yaml")

	out, err := run(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	out, err = run(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "100000.00")

	_, err = run(t, "--config", path, "version")
	assert.NoError(t, err)
}

func TestOfflineTradingRoundTrip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "pt.db")
	base := []string{"--db", db, "--user", "alice"}
	with := func(args ...string) []string { return append(append([]string{}, base...), args...) }

	out, err := run(t, with("order", "-i", "RELIANCE", "-s", "buy", "-q", "10", "--ltp", "RELIANCE=2550.50")...)
	require.NoError(t, err)
	assert.Contains(t, out, "RELIANCE")
	assert.Contains(t, out, "2550.50")

	out, err = run(t, with("funds")...)
	require.NoError(t, err)
	assert.Contains(t, out, "74495.00")
	assert.Contains(t, out, "25505.00")

	out, err = run(t, with("positions", "--ltp", "RELIANCE=2560")...)
	require.NoError(t, err)
	assert.Contains(t, out, "95.00")

	out, err = run(t, with("squareoff", "--ltp", "RELIANCE=2560")...)
	require.NoError(t, err)
	assert.Contains(t, out, "SQUARE_OFF")

	out, err = run(t, with("trades", "--csv")...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "trade_id,order_id"))

	out, err = run(t, with("funds")...)
	require.NoError(t, err)
	assert.Contains(t, out, "100095.00")

	// another user sees a fresh account
	out, err = run(t, "--db", db, "--user", "bob", "funds")
	require.NoError(t, err)
	assert.Contains(t, out, "100000.00")
}

func TestOrderErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "pt.db")

	_, err := run(t, "--db", db, "order", "-i", "INFY", "-q", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRICE_UNAVAILABLE")

	_, err = run(t, "--db", db, "order", "-i", "INFY", "-q", "1", "-s", "hold")
	assert.Error(t, err)

	_, err = run(t, "--db", db, "order", "-i", "INFY", "-q", "1", "--ltp", "INFY=abc")
	assert.Error(t, err)

	_, err = run(t, "--db", db, "order", "-i", "INFY", "-q", "1", "--kind", "limit", "--limit", "90", "--ltp", "INFY=100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIMIT_NOT_MET")
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "pt.db")
	ticks := filepath.Join(dir, "ticks.csv")
	require.NoError(t, os.WriteFile(ticks, []byte(`time,instrument,ltp,user,event,arg1
2024-01-02T09:30:00+05:30,INFY,1500,,BUY,10
2024-01-02T11:00:00+05:30,INFY,1510,bob,BUY,100000
2024-01-02T15:20:00+05:30,INFY,1520
`), 0o644))

	out, err := run(t, "--db", db, "--user", "alice", "replay", ticks)
	require.NoError(t, err)
	assert.Contains(t, out, "rows=3 orders=2 rejected=1 squareoffs=0 users=2")

	out, err = run(t, "--db", db, "--user", "alice", "trades")
	require.NoError(t, err)
	assert.Contains(t, out, "SQUARE_OFF")
	assert.Contains(t, out, "200.00")

	_, err = run(t, "--db", db, "replay", filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
