package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spigell/doc-reviewer/internal/review"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <file|->",
	Short: "Score a document against the review criteria",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		log, _, svc, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		text, filename, err := readDocument(ctx, args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		log.Info("evaluating document", zap.String("filename", filename))

		result, err := svc.Evaluate(ctx, text, filename)
		return printEnvelope(cmd.OutOrStdout(), result, err)
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <file|->",
	Short: "Summarize a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		log, _, svc, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		text, filename, err := readDocument(ctx, args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		log.Info("summarizing document", zap.String("filename", filename))

		result, err := svc.Summarize(ctx, text, filename)
		return printEnvelope(cmd.OutOrStdout(), result, err)
	},
}

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Print the review criteria",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printCriteria(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd, summarizeCmd, criteriaCmd)
}

func printCriteria(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, name := range review.Criteria {
		fmt.Fprintf(tw, "%d\t%s\t0-%d\n", i+1, name, review.MaxScore)
	}
	fmt.Fprintf(tw, "\tmaximum total\t%d\n", review.MaxTotal)
	return tw.Flush()
}
