package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// secretKeys are masked by config show.
var secretKeys = []string{"llm.openai_api_key", "qdrant.api_key", "postgres.url", "redis.url"}

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one dotted configuration key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, _, err := root.load()
				if err != nil {
					return err
				}
				if !s.Source.Has(args[0]) {
					return fmt.Errorf("unknown config key %q", args[0])
				}
				return printValue(cmd, s.Source.Any(args[0], nil))
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the merged configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, _, err := root.load()
				if err != nil {
					return err
				}
				cfg := s.Source
				for _, key := range secretKeys {
					if cfg.String(key, "") != "" {
						cfg = cfg.Set(key, "<redacted>")
					}
				}
				return printValue(cmd, cfg.Raw())
			},
		},
	)
	return cmd
}

func printValue(cmd *cobra.Command, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	default:
		_, err := fmt.Fprintln(cmd.OutOrStdout(), v)
		return err
	}
}
