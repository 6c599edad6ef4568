package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dlctest/ticketscheduler/internal/scheduler"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the scheduler",
		RunE:  runScheduler,
	}
	cmd.Flags().Bool(
		"once",
		false,
		"Perform a single scheduling pass and exit instead of running continuously")
	return cmd
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	once, err := cmd.Flags().GetBool("once")
	if err != nil {
		return errors.WithStack(err)
	}
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return scheduler.Run(config, once)
}
