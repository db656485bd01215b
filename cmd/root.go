package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/superfluid-org/super-rpc/config"
)

var (
	flagVersion    bool   // print version and exit
	flagConfigFile string // path to the YAML config file
	flagPrintNet   bool   // print configured networks and exit

	rootCmd = &cobra.Command{
		Use:   "super-rpc",
		Short: "super-rpc is a caching, failover-aware JSON-RPC reverse proxy for EVM nodes",
		Run:   start,
	}
)

func init() {
	rootCmd.Flags().BoolVarP(&flagVersion, "version", "v", false, "If true, print version and exit")
	rootCmd.Flags().StringVarP(&flagConfigFile, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.Flags().BoolVar(&flagPrintNet, "nm", false, "print configured networks and exit")
}

func start(cmd *cobra.Command, args []string) {
	if flagVersion {
		config.DumpVersionInfo()
		return
	}

	cfg := config.MustLoad(flagConfigFile)

	if flagPrintNet {
		printNetworks(cfg)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	startRpcServer(ctx, wg, cfg)

	gracefulShutdown(wg, cancel)
}

func printNetworks(cfg *config.Config) {
	for key, net := range cfg.RPC.Networks {
		logrus.WithFields(logrus.Fields{
			"network":     key,
			"primary":     net.Primary.URL,
			"hasFallback": net.Fallback != nil,
		}).Info("configured network")
	}
}

func gracefulShutdown(wg *sync.WaitGroup, cancel context.CancelFunc) {
	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGTERM, syscall.SIGINT)

	<-termChan
	logrus.Info("SIGTERM/SIGINT received, shutdown process initiated")

	cancel()

	logrus.Info("Waiting for shutdown...")
	wg.Wait()

	logrus.Info("Shutdown gracefully")
}

// Execute is the command line entrypoint.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("failed to execute command")
	}
}
