package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/randalmurphal/ragflow/internal/rag"
	"github.com/spf13/cobra"
)

type queryOptions struct {
	noAgent   bool
	topK      int
	threshold float64
	jsonOut   bool
}

func newQueryCommand(root *rootOptions) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			req := rag.QueryRequest{
				Query: strings.Join(args, " "),
				TopK:  opts.topK,
			}
			if cmd.Flags().Changed("threshold") {
				req.ScoreThreshold = &opts.threshold
			} else {
				req.ScoreThreshold = &a.settings.RAG.ScoreThreshold
			}
			if req.TopK == 0 {
				req.TopK = a.settings.RAG.TopK
			}
			useAgent := !opts.noAgent
			req.UseAgent = &useAgent

			resp, err := a.rag.Query(ctx, req)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printAnswer(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.noAgent, "no-agent", false, "Answer with a single retrieval and generation pass")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of chunks to retrieve (defaults to rag.top_k)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum similarity score (defaults to rag.score_threshold)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the full response as JSON")
	return cmd
}

func printAnswer(w io.Writer, resp *rag.QueryResponse) {
	fmt.Fprintln(w, resp.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "agent: %s  iterations: %d  confidence: %.2f  time: %.0fms\n",
		resp.AgentType, resp.Iterations, resp.Confidence, resp.ProcessingTimeMs)
	if len(resp.Sources) == 0 {
		fmt.Fprintln(w, "sources: none")
		return
	}
	fmt.Fprintln(w, "sources:")
	for i, src := range resp.Sources {
		fmt.Fprintf(w, "  [%d] %s (score %.2f)\n", i+1, src.DocumentID, src.Score)
	}
}
