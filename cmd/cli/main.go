package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/threateye/internal/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "threateye",
	Short: "ThreatEye CLI - threat-intel alert pipeline tooling",
	Long: `ThreatEye CLI runs the pipeline's periodic jobs (detect, dispatch,
escalate) and queries the alert API. The job commands are intended to be
invoked from cron or a similar external scheduler.`,
}

func init() {
	rootCmd.AddCommand(commands.NewDetectCommand())
	rootCmd.AddCommand(commands.NewDispatchCommand())
	rootCmd.AddCommand(commands.NewEscalateCommand())
	rootCmd.AddCommand(commands.NewLoginCommand())
	rootCmd.AddCommand(commands.NewAlertsCommand())
	rootCmd.AddCommand(commands.NewEscalationsCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
