package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newIndexCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index <path>...",
		Short: "Index local files into the vector store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ensureCollection(ctx); err != nil {
				return fmt.Errorf("prepare vector collection: %w", err)
			}

			var ids []string
			for _, path := range args {
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}
				info, err := os.Stat(abs)
				if err != nil {
					return err
				}
				if info.IsDir() {
					return fmt.Errorf("%s is a directory", path)
				}
				doc, err := a.indexing.CreateDocument(ctx, filepath.Base(abs), abs,
					mime.TypeByExtension(filepath.Ext(abs)), info.Size(), map[string]any{"source": "cli"})
				if err != nil {
					return fmt.Errorf("register %s: %w", path, err)
				}
				ids = append(ids, doc.ID)
			}

			jobs, indexErr := a.indexing.IndexDocuments(ctx, ids)
			out := cmd.OutOrStdout()
			for i, job := range jobs {
				if job.ID == "" {
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%d chunks", args[i], job.Status, job.ProcessedChunks)
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "\t%s", job.ErrorMessage)
				}
				fmt.Fprintln(out)
			}
			if indexErr != nil {
				return errors.Join(errors.New("some documents failed to index"), indexErr)
			}
			return nil
		},
	}
}
