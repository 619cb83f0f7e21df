package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/provision"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendBolt, cfg.Store.Backend)
	assert.Equal(t, DriverLoopback, cfg.Provisioner.Driver)
	assert.Equal(t, provision.DefaultLoopbackPath, cfg.Provisioner.BasePath)
	assert.Equal(t, runtime.GOOS, cfg.Instance.Platform)
	require.NotNil(t, cfg.Instance.Privileged)
	assert.Equal(t, os.Geteuid() == 0, *cfg.Instance.Privileged)
	assert.Equal(t, volume.DefaultAttachSettleDelay, cfg.Attach.SettleDelay)
	assert.Equal(t, volume.DefaultAttachPollInterval, cfg.Attach.PollInterval)
	assert.Equal(t, volume.DefaultAttachTimeout, cfg.Attach.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEqual(t, cfg.Store.DataDir, cfg.Cluster.DataDir)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
instance:
  application: shop
  service: db
  location: eu-west-1a
  bind_address: 10.0.1.17
  platform: linux
  privileged: true
store:
  backend: etcd
  lock: true
  etcd:
    endpoints: [http://10.0.0.5:2379, http://10.0.0.6:2379]
    dial_timeout: 3s
provisioner:
  driver: ebs
  region: eu-west-1
host:
  sudo: true
  mkdir: true
attach:
  settle_delay: 15s
  timeout: 5m
templates:
  - name: small
    size: 10
    volume_type: gp3
    file_system_type: ext4
  - name: scratch
    size: 1
    delete_on_exit: true
log:
  level: debug
  json: true
tls:
  cert_dir: /etc/burrow/certs
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	inst := cfg.InstanceContext()
	assert.Equal(t, "shop", inst.ApplicationName)
	assert.Equal(t, "db", inst.ServiceName)
	assert.Equal(t, "eu-west-1a", inst.LocationID)
	assert.Equal(t, "10.0.1.17", inst.BindAddress)
	assert.True(t, inst.Privileged)

	etcd := cfg.EtcdStoreConfig()
	assert.Len(t, etcd.Endpoints, 2)
	assert.Equal(t, 3*time.Second, etcd.DialTimeout)
	assert.Equal(t, "/burrow", etcd.Prefix)
	assert.True(t, cfg.Store.Lock)

	assert.Equal(t, DriverEBS, cfg.Provisioner.Driver)
	assert.True(t, cfg.Host.Sudo)
	assert.True(t, cfg.Host.CreateMountPoint)

	attach := cfg.AttachSettings()
	assert.Equal(t, 15*time.Second, attach.SettleDelay)
	assert.Equal(t, volume.DefaultAttachPollInterval, attach.PollInterval)
	assert.Equal(t, 5*time.Minute, attach.Timeout)

	require.Len(t, cfg.Templates, 2)
	assert.Equal(t, "gp3", cfg.Templates[0].VolumeType)
	assert.Equal(t, "ext4", cfg.Templates[0].FileSystemType)
	assert.True(t, cfg.Templates[1].DeleteOnExit)

	assert.Equal(t, log.DebugLevel, cfg.Logging().Level)
	assert.True(t, cfg.Logging().JSONOutput)
	assert.Equal(t, "/etc/burrow/certs", cfg.TLS.CertDir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"unknown backend", "store: {backend: redis}", "unknown store backend"},
		{"etcd without endpoints", "store: {backend: etcd}", "endpoints is required"},
		{"lock without etcd", "store: {backend: bolt, lock: true}", "requires the etcd backend"},
		{"unknown driver", "provisioner: {driver: nfs}", "unknown provisioner driver"},
		{"negative timeout", "attach: {timeout: -1s}", "must not be negative"},
		{"negative probe retries", "cluster: {probe_retries: -1}", "probe settings must not be negative"},
		{"unknown log level", "log: {level: chatty}", "unknown log level"},
		{"unnamed template", "templates: [{size: 1}]", "without a name"},
		{"duplicate template", "templates: [{name: a}, {name: a}]", "duplicate template"},
		{"bad yaml", "store: [", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestInstanceContext_Unprivileged(t *testing.T) {
	cfg := Default()
	privileged := false
	cfg.Instance.Privileged = &privileged
	assert.False(t, cfg.InstanceContext().Privileged)
}
