package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hscHeric/kambo-hive-lib/internal/discovery"
	"github.com/hscHeric/kambo-hive-lib/pkg/logger"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Look for a host on the local network",
	Long:  `Broadcast one discovery probe and print the address of the first host that answers.`,
	Example: `  kambohive discover
  kambohive discover --broadcast 192.168.1.255 --timeout 2s`,
	RunE: runDiscover,
}

var discoverFlagPaths = map[string]string{
	"port":      "discovery.port",
	"broadcast": "discovery.broadcast_address",
	"timeout":   "discovery.timeout",
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	f := discoverCmd.Flags()
	f.Int("port", discovery.DefaultPort, "UDP discovery port")
	f.String("broadcast", discovery.DefaultBroadcastAddress, "broadcast address")
	f.Duration("timeout", discovery.DefaultTimeout, "how long to wait for a reply")
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(flagOverrides(cmd, discoverFlagPaths))
	if err != nil {
		return err
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pc := cfg.Discovery.ProberConfig()
	pc.Logger = log.Named("discovery")

	ctx, cancel := context.WithTimeout(cmd.Context(), pc.Timeout+time.Second)
	defer cancel()

	address, err := discovery.Discover(ctx, pc)
	if errors.Is(err, discovery.ErrNoHost) {
		return fmt.Errorf("no host answered on %s:%d within %s", pc.BroadcastAddress, pc.Port, pc.Timeout)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), address)
	return nil
}
