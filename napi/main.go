package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TritonDataCenter/sdc-napi-sub002/napi/response"
	"github.com/TritonDataCenter/sdc-napi-sub002/shared/logger"
)

type cmdGlobal struct {
	flagConfig  string
	flagLogFile string
	flagVerbose bool
	flagDebug   bool
}

func main() {
	globalCmd := cmdGlobal{}

	cmd := &cobra.Command{
		Use:           "napid",
		Short:         "Network API daemon",
		Long:          "napid manages NIC tags, networks, network pools, NICs, fabrics and IP allocation over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return globalCmd.run()
		},
	}

	cmd.PersistentFlags().StringVar(&globalCmd.flagConfig, "config", "", "Path to the configuration file")
	cmd.PersistentFlags().StringVar(&globalCmd.flagLogFile, "logfile", "", "Path to the log file")
	cmd.PersistentFlags().BoolVarP(&globalCmd.flagVerbose, "verbose", "v", false, "Show all information messages")
	cmd.PersistentFlags().BoolVarP(&globalCmd.flagDebug, "debug", "d", false, "Show all debug messages")

	err := cmd.Execute()
	if err != nil {
		logger.Error("Daemon failed", logger.Ctx{"err": err})
		os.Exit(1)
	}
}

func (c *cmdGlobal) run() error {
	err := logger.InitLogger(c.flagLogFile, c.flagVerbose, c.flagDebug)
	if err != nil {
		return err
	}

	response.Init(c.flagDebug)

	config, err := loadConfig(c.flagConfig)
	if err != nil {
		return err
	}

	d := NewDaemon(config)

	err = d.Init()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", logger.Ctx{"signal": sig})
		return d.Stop()
	case err := <-errCh:
		_ = d.Stop()
		return err
	}
}
