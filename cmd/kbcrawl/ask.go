package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sagecloud/kbcrawl/internal/usecase/answer"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>...",
	Short: "Stream a grounded answer to a question",
	Long: "Retrieves the best-matching chunks and streams a model answer that\n" +
		"cites them. With nothing retrieved the model says so instead of\n" +
		"guessing.",
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retriever, err := a.newRetriever()
	if err != nil {
		return err
	}
	chat, err := a.chatClient()
	if err != nil {
		return err
	}

	svc := answer.New(retriever, chat, a.cfg.Retrieval.TopK, a.logger)
	result, err := svc.Ask(ctx, strings.Join(args, " "), func(delta string) error {
		fmt.Print(delta)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Println()

	if len(result.Sources) > 0 {
		fmt.Println("\nSources:")
		for i, src := range result.Sources {
			fmt.Printf("  [%d] %s (%s)\n", i+1, src.Title, src.URL)
		}
	}
	return nil
}
