package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// @title           KisanMandi Chat API
// @version         1.0
// @description     Farmer and trader messaging: conversations, messages, presence, typing, offers and payments.

// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey  UserID
// @in                          header
// @name                        X-User-ID

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "kisanchat",
		Short:        "KisanMandi messaging service",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kisanchat %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
