package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this host can run volume operations",
	Long: `Check the host tools and services volume operations depend on.

Host commands run with the configured sudo settings, so a missing sudo
rule shows up here rather than halfway through an attach. The state store
is reached over TCP: the manager address for the raft backend or every
endpoint for etcd. With TLS configured the certificate directory is checked
for a node certificate signed by ca.crt that is not about to expire.

Examples:
  burrow doctor --config /etc/burrow/burrow.yaml
  burrow doctor --health-url http://10.0.0.1:9090/ready`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().String("health-url", "", "Also check an agent's health endpoint")
	doctorCmd.Flags().Duration("timeout", 5*time.Second, "Timeout for each check")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	healthURL, _ := cmd.Flags().GetString("health-url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	checkers := doctorCheckers(cfg, healthURL)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tTARGET\tSTATUS\tDETAIL")

	failures := 0
	for _, checker := range checkers {
		result := health.Run(cmd.Context(), checker, timeout)
		status := "ok"
		if !result.Healthy {
			status = "FAIL"
			failures++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", checker.Type(), checker.Target(), status, result.Message)
	}
	w.Flush()

	if failures > 0 {
		return fmt.Errorf("%d of %d checks failed", failures, len(checkers))
	}
	return nil
}

// doctorCheckers lists the checks that apply to cfg
func doctorCheckers(cfg *config.Config, healthURL string) []health.Checker {
	var checkers []health.Checker

	hostRunner := volume.ExecRunner{Sudo: cfg.Host.Sudo}
	if cfg.Provisioner.Driver == config.DriverLoopback {
		provisionRunner := volume.ExecRunner{Sudo: cfg.Provisioner.Sudo}
		checkers = append(checkers, health.NewCommandChecker(provisionRunner, "losetup", "--version"))
	}
	checkers = append(checkers,
		health.NewCommandChecker(hostRunner, "mount", "--version"),
		health.NewCommandChecker(hostRunner, "umount", "--version"),
		health.NewCommandChecker(hostRunner, "mkfs", "--version"),
	)

	for _, addr := range storeAddrs(cfg) {
		checkers = append(checkers, health.NewTCPChecker(addr))
	}

	if cfg.TLS.CertDir != "" {
		checkers = append(checkers, health.NewCertChecker(cfg.TLS.CertDir))
	}

	if healthURL != "" {
		checkers = append(checkers, health.NewHTTPChecker(healthURL))
	}
	return checkers
}

// storeAddrs returns the host:port pairs of the configured state store.
// The bolt backend is local and has none.
func storeAddrs(cfg *config.Config) []string {
	switch cfg.Store.Backend {
	case config.BackendRaft:
		return []string{cfg.Store.Manager}
	case config.BackendEtcd:
		addrs := make([]string, 0, len(cfg.Store.Etcd.Endpoints))
		for _, endpoint := range cfg.Store.Etcd.Endpoints {
			addrs = append(addrs, endpointHost(endpoint))
		}
		return addrs
	default:
		return nil
	}
}

// endpointHost strips the scheme from an etcd endpoint such as
// https://10.0.0.5:2379
func endpointHost(endpoint string) string {
	if !strings.Contains(endpoint, "://") {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
