package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/butler/internal/butler"
)

func newPutCmd(c *cli) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "put TYPE FILE [key=value...]",
		Short: "Write a dataset",
		Long: `Write the content of FILE as the dataset of TYPE identified by the
key=value pairs, in the output repository.

Writing content identical to the stored dataset succeeds without change;
different content is refused with a summary of the differences.

Examples:
  butler put raw exposure.dat visit=1 detector=2
  butler put --yaml ccdinfo info.yaml visit=1`,
		Args: cobra.MinimumNArgs(2),
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "parse FILE as a YAML document before writing")
	cmd.RunE = c.withButler(func(cmd *cobra.Command, b *butler.Butler, args []string) error {
		ctx := cmd.Context()
		id, err := parseDataID(args[2:])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}
		var value any = data
		if asYAML {
			var doc any
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parsing %s: %w", args[1], err)
			}
			value = doc
		}
		if err := b.Put(ctx, value, args[0], id); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s %s\n", args[0], id)
		return err
	})
	return cmd
}
