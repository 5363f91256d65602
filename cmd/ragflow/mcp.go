package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/randalmurphal/ragflow/internal/mcp"
	"github.com/randalmurphal/ragflow/pkg/ragflow"
	"github.com/spf13/cobra"
)

func newMCPCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the RAG tools over the Model Context Protocol on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(a.rag, ragflow.RetrieverFunc(a.rag.VectorSearch), a.context, version, a.logger)
			a.logger.Info("mcp server listening on stdio")
			if err := srv.Listen(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
