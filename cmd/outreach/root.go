package main

import (
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/outreach-engine/internal/config"
	"github.com/LeventeLantos/outreach-engine/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "outreach",
		Short:        "Paced outreach dispatch and tracker reconciliation",
		Long:         `Runs the operator API that sends queued outreach at a human pace and keeps queue statuses aligned with the backend tracker service.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newSyncCmd(), newQueueCmd())
	return root
}

// loadConfig reads the environment and installs the default logger. The
// returned func closes the log file, if any.
func loadConfig() (*config.Config, func() error, error) {
	cfg, err := config.LoadAll()
	if err != nil {
		return nil, nil, err
	}
	closeLog, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}
