package testutil

import "github.com/zjrosen/butler/internal/repoconfig"

// DatasetOption configures a dataset type during builder setup.
type DatasetOption func(*repoconfig.DatasetTypeConfig)

// WithLookup adds a lookup rule deriving outputs by reading dataset with inputs.
func WithLookup(dataset string, inputs, outputs []string) DatasetOption {
	return func(dc *repoconfig.DatasetTypeConfig) {
		dc.Lookups = append(dc.Lookups, repoconfig.LookupRule{Dataset: dataset, Inputs: inputs, Outputs: outputs})
	}
}
