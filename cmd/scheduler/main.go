package main

import (
	"os"

	"github.com/dlctest/ticketscheduler/cmd/scheduler/cmd"
	"github.com/dlctest/ticketscheduler/internal/common"
)

func main() {
	common.ConfigureLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
