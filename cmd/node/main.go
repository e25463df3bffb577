package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkeycoin2/wirenode/core"
	"github.com/tkeycoin2/wirenode/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "wirenode"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(dialCmd())
	rootCmd.AddCommand(peersCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// startCmd runs a node bound to the loaded configuration until interrupted.
// There is no ledger wired in here (persistence/consensus are out of scope);
// the node serves the handshake/relay protocol with a nil BlockReader, which
// degrades inv/getdata/block handling to "never have it, never serve it", and
// replication stays disabled since NewBootstrapNode only starts it when both
// a ReplicationConfig and a BlockReader are supplied.
func startCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a node listening for peer connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			b, err := core.NewBootstrapNode(&core.BootstrapConfig{Network: cfg.ToCore()}, nil)
			if err != nil {
				return fmt.Errorf("start node: %w", err)
			}
			b.Start()
			fmt.Printf("listening on %s:%d\n", cfg.Listen.Host, cfg.Listen.Port)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return b.Stop()
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment overlay (e.g. bootstrap)")
	return cmd
}

// dialCmd connects to a single peer and reports the handshake outcome, useful
// for diagnosing connectivity without standing up a full node.
func dialCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "dial [addr]",
		Short: "dial a single peer and report handshake status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			coreCfg := cfg.ToCore()
			coreCfg.Listen.Host = ""
			coreCfg.Listen.Port = 0
			coreCfg.Peers.Seed = nil

			b, err := core.NewBootstrapNode(&core.BootstrapConfig{Network: coreCfg}, nil)
			if err != nil {
				return fmt.Errorf("init node: %w", err)
			}
			defer b.Stop()

			pm := b.PeerManager()
			if err := pm.Connect(args[0]); err != nil {
				return fmt.Errorf("connect %s: %w", args[0], err)
			}

			time.Sleep(2 * time.Second)
			for _, p := range pm.Peers() {
				fmt.Printf("peer=%s addr=%s state=%s\n", p.ID, p.Addr, p.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment overlay (e.g. bootstrap)")
	return cmd
}

// peersCmd is a placeholder for an operator-facing peer listing; wiring it to
// a running process requires a control-plane RPC, which is out of scope here,
// so it just documents the intended surface.
func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "list peers of a running node (requires an external control RPC, not provided)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("peers: no control-plane RPC configured; use 'dial' for ad-hoc connectivity checks")
		},
	}
}
