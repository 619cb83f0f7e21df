package main

import (
	"testing"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/stretchr/testify/assert"
)

func targets(checkers []health.Checker) []string {
	var out []string
	for _, c := range checkers {
		out = append(out, string(c.Type())+" "+c.Target())
	}
	return out
}

func TestDoctorCheckers_LoopbackRaft(t *testing.T) {
	cfg := config.Default()
	cfg.Provisioner.Driver = config.DriverLoopback
	cfg.Store.Backend = config.BackendRaft
	cfg.Store.Manager = "10.0.0.1:8080"

	assert.Equal(t, []string{
		"command losetup --version",
		"command mount --version",
		"command umount --version",
		"command mkfs --version",
		"tcp 10.0.0.1:8080",
		"http http://10.0.0.1:9090/ready",
	}, targets(doctorCheckers(cfg, "http://10.0.0.1:9090/ready")))
}

func TestDoctorCheckers_EBSEtcd(t *testing.T) {
	cfg := config.Default()
	cfg.Provisioner.Driver = config.DriverEBS
	cfg.Store.Backend = config.BackendEtcd
	cfg.Store.Etcd.Endpoints = []string{"https://10.0.0.5:2379", "10.0.0.6:2379"}

	assert.Equal(t, []string{
		"command mount --version",
		"command umount --version",
		"command mkfs --version",
		"tcp 10.0.0.5:2379",
		"tcp 10.0.0.6:2379",
	}, targets(doctorCheckers(cfg, "")))
}

func TestDoctorCheckers_TLS(t *testing.T) {
	cfg := config.Default()
	cfg.Provisioner.Driver = config.DriverEBS
	cfg.Store.Backend = config.BackendRaft
	cfg.Store.Manager = "10.0.0.1:8080"
	cfg.TLS.CertDir = "/etc/burrow/certs"

	got := targets(doctorCheckers(cfg, ""))
	assert.Equal(t, "cert /etc/burrow/certs", got[len(got)-1])
}

func TestStoreAddrs_Bolt(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendBolt
	assert.Empty(t, storeAddrs(cfg))
}
