package cli

import (
	"context"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/query"

	"github.com/spf13/cobra"
)

var showTrace bool

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a question from the graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		b, err := openBackends(ctx)
		if err != nil {
			return err
		}
		defer b.store.Close(context.Background())

		return ask(ctx, cmd, b.answerer(), args[0])
	},
}

func init() {
	queryCmd.Flags().BoolVar(&showTrace, "trace", false, "Show the retrieved node ids")

	rootCmd.AddCommand(queryCmd)
}

type questioner interface {
	Answer(ctx context.Context, question string) (*query.Result, error)
}

func ask(ctx context.Context, cmd *cobra.Command, a questioner, question string) error {
	res, err := a.Answer(ctx, question)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, res)
	}
	renderResult(out, question, res, showTrace)
	return nil
}
