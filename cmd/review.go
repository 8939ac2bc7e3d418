package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spigell/doc-reviewer/internal/review"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	PromptEvaluate   = "Evaluate"
	PromptSummarize  = "Summarize"
	PromptBoth       = "Summarize and evaluate"
	PromptCriteria   = "Show criteria"
	PromptInvalidate = "Forget cached evaluation"
	PromptExit       = "Exit"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "What should be done with the document?",
	Items: []string{PromptEvaluate, PromptSummarize, PromptBoth, PromptCriteria, PromptInvalidate, PromptExit},
}

var reviewCmd = &cobra.Command{
	Use:   "review <file|->",
	Short: "Review a document interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReview(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().BoolP("yes", "y", false, "do not ask, summarize and evaluate the document once")
}

func runReview(cmd *cobra.Command, path string) error {
	ctx := cmd.Context()

	log, _, svc, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	text, filename, err := readDocument(ctx, path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	log.Info("document loaded", zap.String("filename", filename), zap.Int("bytes", len(text)))

	auto, _ := cmd.Flags().GetBool("yes")
	if auto {
		return handleAction(ctx, PromptBoth, svc, cmd.OutOrStdout(), log, text, filename)
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return fmt.Errorf("prompt: %w", err)
		}

		err = handleAction(ctx, action, svc, cmd.OutOrStdout(), log, text, filename)
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			// keep the session alive; the error was already printed
			log.Warn("action failed", zap.String("action", action), zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, action string, svc *review.Service, out io.Writer, log *zap.Logger, text, filename string) error {
	switch action {
	case PromptEvaluate:
		result, err := svc.Evaluate(ctx, text, filename)
		return printEnvelope(out, result, err)
	case PromptSummarize:
		result, err := svc.Summarize(ctx, text, filename)
		return printEnvelope(out, result, err)
	case PromptBoth:
		result, err := svc.Review(ctx, text, filename)
		return printEnvelope(out, result, err)
	case PromptCriteria:
		return printCriteria(out)
	case PromptInvalidate:
		if err := svc.Invalidate(ctx, text); err != nil {
			return fmt.Errorf("invalidate cache: %w", err)
		}
		log.Info("cached evaluation removed", zap.String("filename", filename))
		return nil
	case PromptExit:
		log.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}
