package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-qbmidi/internal/config"
	"github.com/moffa90/go-qbmidi/link"
)

// testConfig returns the default configuration with timings shortened
// for the simulator.
func testConfig(t *testing.T) *config.ServiceConfig {
	t.Helper()

	cfg, err := config.Init()
	require.NoError(t, err)

	cfg.Logging.Level = "error"
	cfg.Transport.Kind = config.TransportSimulator
	cfg.Monitor.Interval = 10 * time.Millisecond
	cfg.Monitor.RetryDelay = 10 * time.Millisecond
	cfg.Monitor.RetryJitter = 0
	cfg.Identify.UUIDSamples = 3
	cfg.Identify.StatusSamples = 3
	cfg.Identify.ListenWindow = 0
	cfg.Identify.EchoWindow = 0
	cfg.Lock.VerifyDelay = 0
	cfg.Bootloader.ReconnectAttempts = 5
	cfg.Bootloader.ReconnectDelay = time.Millisecond
	cfg.Bootloader.SettleDelay = 0
	cfg.Bootloader.TransferBackoff = 0
	cfg.Bootloader.PaceDelay = 0
	cfg.Store.PollInterval = 10 * time.Millisecond
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "qbmidi.db")

	return cfg
}

func run(t *testing.T, cfg *config.ServiceConfig, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	c := New(cfg)
	c.out = &out

	parser, err := kong.New(c, append(KongOptions(cfg),
		kong.BindTo(context.Background(), (*context.Context)(nil)),
	)...)
	require.NoError(t, err)

	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	require.NoError(t, kctx.Run(c))

	return out.String()
}

func TestListBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, backend := range []string{config.BackendMemory, config.BackendSQLite, config.BackendRedis} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Store.RedisAddress = mr.Addr()

			out := run(t, cfg, "--store", backend, "--simulate", "2", "list", "--wait", "300ms", "--json")

			var infos []link.Info
			require.NoError(t, json.Unmarshal([]byte(out), &infos))
			require.Len(t, infos, 2)

			uuids := []string{infos[0].UUID, infos[1].UUID}
			assert.ElementsMatch(t, []string{"QB0SIMULATED0001", "QB0SIMULATED0002"}, uuids)
		})
	}
}

func TestListTable(t *testing.T) {
	out := run(t, testConfig(t), "list", "--wait", "300ms")
	assert.Contains(t, out, "QB0SIMULATED0001")
	assert.Contains(t, out, "running")
}

func TestListEmpty(t *testing.T) {
	out := run(t, testConfig(t), "--simulate", "0", "list", "--wait", "50ms")
	assert.Equal(t, "No links found\n", out)
}

func TestModeCommands(t *testing.T) {
	cfg := testConfig(t)

	out := run(t, cfg, "enter-bootloader", "--uuid", "QB0SIMULATED0001")
	assert.Contains(t, out, "bootloader mode")

	out = run(t, cfg, "exit-bootloader")
	assert.Contains(t, out, "QB0SIMULATED0001")
}

func TestUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blink.hex")
	require.NoError(t, os.WriteFile(path, []byte(":0400000001020304F2\n:00000001FF\n"), 0o644))

	out := run(t, testConfig(t), "upload", path)
	assert.Equal(t, "Uploaded "+path+" to QB0SIMULATED0001\n", out)
}

func TestSelector(t *testing.T) {
	c := New(testConfig(t))
	assert.Equal(t, "QB0X", c.selector("QB0X", 4))
	assert.Equal(t, "#4", c.selector("", 4))
	assert.Equal(t, "single link", c.selector("", 0))
}
