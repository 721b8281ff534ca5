package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mesh "github.com/i5heu/ouroboros-mesh"
	"github.com/i5heu/ouroboros-mesh/internal/node"
	"github.com/i5heu/ouroboros-mesh/pkg/logging"
)

const (
	logKeyListenAddr = "listenAddr"
	logKeyDataPath   = "dataPath"
	logKeyBootstrap  = "bootstrap"
)

type startFlags struct {
	configPath string
	listenAddr string
	dataPath   string
	bootstrap  []string
	debug      bool
}

func main() { // A
	rootCmd := &cobra.Command{
		Use:           "meshd",
		Short:         "meshd runs a node of the ouroboros storage mesh",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newStartCmd(), newIDCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStartCmd() *cobra.Command { // A
	var f startFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a mesh node and join the mesh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVarP(&f.listenAddr, "listen", "l", "", "Listen address (host:port)")
	cmd.Flags().StringVarP(&f.dataPath, "data", "d", "", "Data directory for the node key and records")
	cmd.Flags().StringSliceVarP(&f.bootstrap, "bootstrap", "b", nil, "Addresses of nodes to join through")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	return cmd
}

// runStart loads the config, lets flags override it and runs the node
// until SIGINT or SIGTERM.
func runStart(cmd *cobra.Command, f startFlags) error { // A
	var cfg mesh.Config
	if f.configPath != "" {
		var err error
		cfg, err = mesh.LoadConfig(f.configPath)
		if err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddress = f.listenAddr
	}
	if flags.Changed("data") {
		cfg.DataPath = f.dataPath
	}
	if flags.Changed("bootstrap") {
		cfg.BootstrapPeers = f.bootstrap
	}
	if flags.Changed("debug") {
		cfg.Debug = f.debug
	}
	cfg.Logger = logging.ForDebug(cfg.Debug)

	m, err := mesh.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Logger.InfoContext(ctx, "starting mesh node",
		logKeyListenAddr, cfg.ListenAddress,
		logKeyDataPath, cfg.DataPath,
		logKeyBootstrap, len(cfg.BootstrapPeers))

	if err := m.Run(ctx); err != nil {
		return err
	}
	cfg.Logger.Info("mesh node stopped")
	return nil
}

func newIDCmd() *cobra.Command { // A
	var dataPath string
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Print the peer id of a data directory, creating its key if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dataPath == "" {
				return fmt.Errorf("--data is required")
			}
			kp, err := node.LoadIdentity(dataPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kp.PeerID().String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "Data directory holding node.key")
	return cmd
}
