package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, cfg HivectlConfig) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "hivectl.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(&cfg))
}

func TestDefaultConfigRoundTrips(t *testing.T) {
	path := writeConfig(t, DefaultConfig())

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "metastore", cfg.Metastore.Database)
	assert.Len(t, cfg.Services, 5)
	assert.Equal(t, "hiveserver2", cfg.Services[4].Name)
	assert.Equal(t, []string{"metastore", "resourcemanager"}, cfg.Services[4].DependsOn)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hivectl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compose: ["), 0o600))

	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "parse")
}

func TestValidateRejectsMissingComposeFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Compose.File = ""
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsBadTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services[0].Tier = "middleware"
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsBadProbeType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services[0].Probe = ProbeConfig{Type: "icmp"}
	assert.Error(t, Validate(&cfg))
}

func TestValidateRequiresTCPAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services[0].Probe = ProbeConfig{Type: "tcp"}
	assert.Error(t, Validate(&cfg))
}

func TestValidateRequiresLogMarkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services[0].Probe = ProbeConfig{Type: "log"}
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsEmptyServices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services = nil
	assert.Error(t, Validate(&cfg))
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metastore.Port = 70000
	assert.Error(t, Validate(&cfg))
}

func TestValidateRemoteBackupNeedsCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backup.Remote = &RemoteConfig{Endpoint: "minio:9000"}
	assert.Error(t, Validate(&cfg))

	cfg.Backup.Remote = &RemoteConfig{
		Endpoint: "minio:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "backups",
	}
	assert.NoError(t, Validate(&cfg))
}
