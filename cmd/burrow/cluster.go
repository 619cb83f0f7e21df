package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the volume state store cluster",
}

var clusterJoinTokenCmd = &cobra.Command{
	Use:   "join-token [voter|nonvoter]",
	Short: "Generate a join token for a new store node",
	Long: `Generate a join token on the cluster leader.

Voters take part in leader election and commit quorums. Nonvoters
replicate the log and serve local reads only.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := manager.RoleVoter
		if len(args) == 1 {
			role = args[0]
		}
		if role != manager.RoleVoter && role != manager.RoleNonvoter {
			return fmt.Errorf("role must be '%s' or '%s'", manager.RoleVoter, manager.RoleNonvoter)
		}

		c, err := dialManager(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		token, err := c.GenerateJoinToken(cmd.Context(), role)
		if err != nil {
			return fmt.Errorf("failed to generate join token: %w", err)
		}

		fmt.Printf("Join token (%s, expires %s):\n\n", token.Role, token.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("  %s\n\n", token.Token)
		fmt.Println("To add a node:")
		fmt.Printf("  burrow agent --join %s --token %s\n", managerAddr(cmd), token.Token)
		return nil
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cluster servers and members",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialManager(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.ClusterInfo(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get cluster info: %w", err)
		}

		fmt.Printf("Node:          %s\n", info.NodeID)
		fmt.Printf("Leader:        %s (%s)\n", info.LeaderID, info.LeaderAddr)
		fmt.Printf("Last index:    %d\n", info.LastIndex)
		fmt.Printf("Applied index: %d\n", info.AppliedIndex)
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRAFT ADDRESS\tAPI ADDRESS\tSUFFRAGE\tLEADER")
		apiAddrs := make(map[string]string, len(info.Members))
		for _, m := range info.Members {
			apiAddrs[m.NodeID] = m.APIAddr
		}
		for _, s := range info.Servers {
			leader := ""
			if s.Leader {
				leader = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Address, apiAddrs[s.ID], s.Suffrage, leader)
		}
		return w.Flush()
	},
}

func init() {
	clusterCmd.PersistentFlags().String("manager", "", "API address of a store node (default store.manager)")
	clusterCmd.AddCommand(clusterJoinTokenCmd)
	clusterCmd.AddCommand(clusterInfoCmd)
}

func managerAddr(cmd *cobra.Command) string {
	addr := cfg.Store.Manager
	overrideString(cmd, "manager", &addr)
	return addr
}

func dialManager(cmd *cobra.Command) (*client.Client, error) {
	addr := managerAddr(cmd)
	c, err := client.Dial(context.Background(), addr, client.Options{CertDir: cfg.TLS.CertDir})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to manager: %w", err)
	}
	return c, nil
}
