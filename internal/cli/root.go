// Package cli implements kgctl, a command line front end for building and
// querying textbook graphs without the queue and HTTP services.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/config"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/util"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "kgctl",
	Short: "Build and query textbook knowledge graphs",
	Long: `kgctl turns converted textbook pages into a knowledge graph of units,
sections, mentions and figures, and answers questions against it.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		util.LoadEnv()
		config.InitLogger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine readable JSON")
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}
