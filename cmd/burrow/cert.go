package main

import (
	"fmt"
	"net"

	"github.com/cuemby/burrow/pkg/security"
	"github.com/spf13/cobra"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage the certificates used for mutual TLS",
}

var certInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new certificate authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("ca-dir")

		ca := security.NewCertAuthority()
		if err := ca.Initialize(); err != nil {
			return err
		}
		if err := ca.SaveToDir(dir); err != nil {
			return err
		}

		fmt.Printf("✓ Certificate authority written to %s\n", dir)
		fmt.Println("  Keep ca.key private; distribute ca.crt with each issued certificate.")
		return nil
	},
}

var certIssueCmd = &cobra.Command{
	Use:   "issue NAME",
	Short: "Issue a node or client certificate",
	Long: `Issue a certificate signed by the certificate authority.

The certificate is valid for both server and client authentication, so
the same directory serves an agent's listener and the connections it
makes to other nodes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caDir, _ := cmd.Flags().GetString("ca-dir")
		outDir, _ := cmd.Flags().GetString("out")
		dnsNames, _ := cmd.Flags().GetStringSlice("dns")
		ipFlags, _ := cmd.Flags().GetStringSlice("ip")

		var ips []net.IP
		for _, raw := range ipFlags {
			ip := net.ParseIP(raw)
			if ip == nil {
				return fmt.Errorf("invalid IP address %q", raw)
			}
			ips = append(ips, ip)
		}

		ca := security.NewCertAuthority()
		if err := ca.LoadFromDir(caDir); err != nil {
			return err
		}

		cert, err := ca.IssueCertificate(args[0], dnsNames, ips)
		if err != nil {
			return err
		}
		if err := security.SaveCertToFile(cert, outDir); err != nil {
			return err
		}
		if err := security.SaveCACertToFile(ca.RootCert(), outDir); err != nil {
			return err
		}

		fmt.Printf("✓ Certificate for %s written to %s (expires %s)\n",
			args[0], outDir, cert.Leaf.NotAfter.Format("2006-01-02"))
		return nil
	},
}

func init() {
	certCmd.PersistentFlags().String("ca-dir", "./burrow-ca", "Directory holding ca.crt and ca.key")
	certIssueCmd.Flags().String("out", "./burrow-certs", "Directory to write node.crt, node.key and ca.crt to")
	certIssueCmd.Flags().StringSlice("dns", []string{"localhost"}, "DNS names the certificate is valid for")
	certIssueCmd.Flags().StringSlice("ip", []string{"127.0.0.1"}, "IP addresses the certificate is valid for")

	certCmd.AddCommand(certInitCmd)
	certCmd.AddCommand(certIssueCmd)
}
