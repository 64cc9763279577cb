package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univ-capstone/modelvideo/internal/config"
	"github.com/univ-capstone/modelvideo/internal/logging"
	"github.com/univ-capstone/modelvideo/internal/producer"
)

func loadConfig(t *testing.T, extra string) config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "modelvideo.yaml")
	yamlData := fmt.Sprintf(`
data_dir: %s
upload:
  video_path: %s
readiness:
  mode: stable
  poll_interval: 5ms
  settle_checks: 1
  timeout: 2s
retry:
  attempts: 2
  initial_backoff: 1ms
  max_backoff: 2ms
%s`, filepath.Join(dir, "data"), filepath.Join(dir, "videos", "{user_id}.mp4"), extra)
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	cfg, err := config.New(path)
	require.NoError(t, err)
	return cfg
}

func TestBuild_DryRunPublishes(t *testing.T) {
	cfg := loadConfig(t, "")

	a, err := Build(context.Background(), cfg, logging.Discard(), Options{Name: "test", DryRun: true})
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, producer.StubProducer{}, a.Producer)

	video := a.Service.VideoPath("U1")
	require.NoError(t, os.MkdirAll(filepath.Dir(video), 0755))
	require.NoError(t, os.WriteFile(video, []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2', 0, 0, 0, 0}, 0644))

	res, err := a.Service.Run(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "users/U1/models/model1", res.DocumentPath)

	rec, err := a.Records.Get(context.Background(), "U1", "model1")
	require.NoError(t, err)
	assert.Equal(t, res.URL, rec.VideoURL)

	run, err := a.Ledger.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "completed", run.Status)
}

func TestBuild_MissingCredentials(t *testing.T) {
	cfg := loadConfig(t, "firebase:\n  credentials_file: /nonexistent/key.json\n")

	_, err := Build(context.Background(), cfg, logging.Discard(), Options{Name: "test"})
	require.Error(t, err)
}

func TestBuild_UnreachableNATS(t *testing.T) {
	cfg := loadConfig(t, "nats_url: nats://127.0.0.1:1\n")

	_, err := Build(context.Background(), cfg, logging.Discard(), Options{Name: "test", DryRun: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats connect")
}

func TestRetryPolicy(t *testing.T) {
	cfg := loadConfig(t, "")
	p := RetryPolicy(cfg)
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, cfg.RetryInitialBackoff(), p.InitialBackoff)
	assert.Equal(t, cfg.RetryMaxBackoff(), p.MaxBackoff)
}
