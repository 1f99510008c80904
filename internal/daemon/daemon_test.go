package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/deskd/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.AI.Profiles = []config.AIProfile{
		{ID: "primary", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 1},
	}
	cfg.DataDir = dataDir
	cfg.StorePath = filepath.Join(dataDir, "threads.db")
	cfg.Audit.File = filepath.Join(dataDir, "audit.jsonl")
	cfg.Logging.File = filepath.Join(dataDir, "deskd.log")
	cfg.Logging.Level = "error"
	cfg.Gateway.SharedSecret = "secret"
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Profiles = nil

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewBuildsDaemon(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Stop()

	assert.NotNil(t, d.store)
	assert.NotNil(t, d.gate)
	assert.NotNil(t, d.orch)
	assert.NotNil(t, d.server)
}

func TestNewWithPolicyCorpus(t *testing.T) {
	cfg := testConfig(t)

	corpus := filepath.Join(cfg.DataDir, "policies")
	require.NoError(t, os.MkdirAll(corpus, 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(corpus, "refunds.md"),
		[]byte("# Refund policy\n\nRefunds above 100 USD require approval."),
		0644,
	))
	cfg.Retriever.CorpusDir = corpus

	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Stop()

	assert.NotNil(t, d.index)
}

func TestRunServesAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = freePort(t)

	d, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Wait for the gateway to come up.
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Gateway.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
