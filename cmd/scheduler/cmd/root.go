package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dlctest/ticketscheduler/internal/common"
	"github.com/dlctest/ticketscheduler/internal/scheduler"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "scheduler",
		SilenceUsage: true,
		Short:        "Admits queued test jobs into execution as capacity allows",
	}

	cmd.PersistentFlags().StringSlice(
		"config",
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")

	cmd.AddCommand(
		runCmd(),
		pruneLedgerCmd(),
	)

	return cmd
}

func loadConfig(cmd *cobra.Command) (scheduler.Configuration, error) {
	var config scheduler.Configuration
	overrideConfigs, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return config, err
	}
	err = common.LoadConfig(&config, "./config/scheduler", overrideConfigs)
	return config, err
}
