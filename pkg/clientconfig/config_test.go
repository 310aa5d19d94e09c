package clientconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultMagnitudes(t *testing.T) {
	cfg := Default()
	require.Equal(t, 256, cfg.MaxConcurrentRequests)
	require.Equal(t, 3, cfg.TableMountInfoUpdateRetryCount)
	require.Equal(t, 500*time.Millisecond, cfg.TableMountInfoUpdateRetryPeriod)
	require.Equal(t, int64(1), cfg.TerminalSignature)
}

func TestLoadOverlaysOntoDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_requests: 4\nterminal_signature: 9\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxConcurrentRequests)
	require.Equal(t, int64(9), cfg.TerminalSignature)
	// Fields absent from the file keep their Default() value.
	require.Equal(t, 3, cfg.TableMountInfoUpdateRetryCount)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
