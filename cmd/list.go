package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/butler/internal/butler"
	"github.com/zjrosen/butler/internal/mapper"
)

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list TYPE [key=value...]",
		Short: "List stored datasets matching a partial data id",
		Long: `List the data ids of every stored dataset of TYPE consistent with the
given key=value pairs, one per line.

Examples:
  butler list raw
  butler list raw visit=1`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.withButler(func(cmd *cobra.Command, b *butler.Butler, args []string) error {
			partial, err := parseDataID(args[1:])
			if err != nil {
				return err
			}
			refs, err := b.GetRefSet(cmd.Context(), args[0], partial)
			if err != nil {
				return err
			}
			lines := make([]string, len(refs))
			for i, ref := range refs {
				lines[i] = ref.DataID.String()
			}
			return printLines(cmd, lines)
		}),
	}
}

func newLocateCmd(c *cli) *cobra.Command {
	var forWrite bool
	cmd := &cobra.Command{
		Use:   "locate TYPE [key=value...]",
		Short: "Print the storage locations of a dataset",
		Long: `Resolve TYPE and the key=value pairs to storage locations without
reading or writing, one per line.

Examples:
  butler locate raw visit=1 detector=2
  butler locate --write calexp visit=1 ccd=4`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().BoolVarP(&forWrite, "write", "w", false, "resolve for writing")
	cmd.RunE = c.withButler(func(cmd *cobra.Command, b *butler.Butler, args []string) error {
		ctx := cmd.Context()
		id, err := parseDataID(args[1:])
		if err != nil {
			return err
		}
		locs, err := b.Map(ctx, args[0], id, forWrite)
		if err != nil {
			return err
		}
		return printLines(cmd, mapper.URLs(locs))
	})
	return cmd
}

func newKeysCmd(c *cli) *cobra.Command {
	var required bool
	cmd := &cobra.Command{
		Use:   "keys [TYPE]",
		Short: "Print the data id keys of a dataset type",
		Long: `Print the data id keys meaningful for TYPE, or for every dataset type
when TYPE is omitted. With --required only the keys its URL templates name
are printed.`,
		Args: cobra.MaximumNArgs(1),
	}
	cmd.Flags().BoolVar(&required, "required", false, "print only the keys the URL templates name")
	cmd.RunE = c.withButler(func(cmd *cobra.Command, b *butler.Butler, args []string) error {
		var datasetType string
		if len(args) == 1 {
			datasetType = args[0]
		}
		get := b.GetKeys
		if required {
			get = b.GetRequiredKeys
		}
		keys, err := get(datasetType)
		if err != nil {
			return err
		}
		return printLines(cmd, keys.Sorted())
	})
	return cmd
}

func newTypesCmd(c *cli) *cobra.Command {
	var recorded bool
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Print every dataset type of the repository chain",
		Long: `Print every dataset type declared by the repository chain. With --recorded
print only the types with datasets recorded in the output repository's
registry database.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&recorded, "recorded", false, "print only types recorded in the output registry")
	cmd.RunE = c.withButler(func(cmd *cobra.Command, b *butler.Butler, _ []string) error {
		if !recorded {
			return printLines(cmd, b.DatasetTypes())
		}
		types, err := b.RecordedTypes(cmd.Context())
		if err != nil {
			return err
		}
		return printLines(cmd, types)
	})
	return cmd
}

func printLines(cmd *cobra.Command, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
	return err
}
