package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/butler/internal/butler"
	"github.com/zjrosen/butler/internal/storage"
)

func newGetCmd(c *cli) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "get TYPE [key=value...]",
		Short: "Read a dataset",
		Long: `Read the dataset of TYPE identified by the key=value pairs and print it.

Keys left out are filled from defaults, lookups and discovery; the
remaining identifier must match exactly one stored dataset.

Examples:
  butler get raw visit=1 detector=2 > raw.dat
  butler get ccdinfo visit=1
  butler get --output calexp.fits calexp visit=1`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write the dataset to this file instead of stdout")
	cmd.RunE = c.withButler(func(cmd *cobra.Command, b *butler.Butler, args []string) error {
		ctx := cmd.Context()
		id, err := parseDataID(args[1:])
		if err != nil {
			return err
		}
		value, err := b.Get(ctx, args[0], id)
		if err != nil {
			return err
		}
		if outPath != "" {
			f, err := os.Create(outPath) //nolint:gosec // G304: output path is user-supplied
			if err != nil {
				return fmt.Errorf("creating %s: %w", outPath, err)
			}
			defer func() { _ = f.Close() }()
			return writeValue(f, value)
		}
		return writeValue(cmd.OutOrStdout(), value)
	})
	return cmd
}

// writeValue prints raw content as is and anything else as YAML.
func writeValue(w io.Writer, value any) error {
	switch v := value.(type) {
	case []byte:
		_, err := w.Write(v)
		return err
	case string:
		_, err := io.WriteString(w, v)
		return err
	case *storage.Exposure:
		if _, err := w.Write(v.Data); err != nil {
			return err
		}
		if len(v.Metadata) == 0 {
			return nil
		}
		return yaml.NewEncoder(w).Encode(v.Metadata)
	default:
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(v)
	}
}
