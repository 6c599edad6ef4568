package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dlctest/ticketscheduler/internal/scheduler"
)

func pruneLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pruneLedger",
		Short: "Removes stale reservations from the resource pool",
		RunE:  pruneLedger,
	}
	cmd.Flags().Duration(
		"expireAfter",
		24*time.Hour,
		"Reservations whose last modification is older than this are deleted")
	return cmd
}

func pruneLedger(cmd *cobra.Command, _ []string) error {
	expireAfter, err := cmd.Flags().GetDuration("expireAfter")
	if err != nil {
		return errors.WithStack(err)
	}
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if expireAfter > 0 {
		config.LedgerExpiry = expireAfter
	}
	return scheduler.RunPrune(config)
}
