package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sagecloud/kbcrawl/internal/domain"
	"github.com/sagecloud/kbcrawl/internal/usecase/retrieve"
	"github.com/sagecloud/kbcrawl/internal/vecindex"
)

var queryCmd = &cobra.Command{
	Use:   "query <text>...",
	Short: "Retrieve the best-matching chunks for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var queryTopK int

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "Number of results (overrides config)")
	rootCmd.AddCommand(queryCmd)
}

// newRetriever wires the retrieval service. A missing vector index is not an
// error; the service then returns no results.
func (a *app) newRetriever() (*retrieve.Service, error) {
	embedder, err := a.embedder()
	if err != nil {
		return nil, err
	}

	index, err := vecindex.Load(a.indexCfg(), a.logger)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	return retrieve.New(index, a.store, embedder, retrieve.Config{
		TopK:           a.cfg.Retrieval.TopK,
		ShoppingTerms:  a.cfg.Retrieval.ShoppingTerms,
		CuratedBonus:   a.cfg.Retrieval.CuratedBonus,
		EditorialBonus: a.cfg.Retrieval.EditorialBonus,
		RecencyBonuses: a.cfg.Retrieval.RecencyBonuses,
	}, a.logger), nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	retriever, err := a.newRetriever()
	if err != nil {
		return err
	}

	results, err := retriever.Retrieve(cmd.Context(), strings.Join(args, " "), queryTopK)
	if err != nil {
		return err
	}
	return printJSON(results)
}
