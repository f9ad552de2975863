package butler

import (
	"context"
	"fmt"

	"github.com/zjrosen/butler/internal/dataid"
)

// DataRef is a handle to one stored dataset.
type DataRef struct {
	butler      *Butler
	DatasetType string
	DataID      dataid.DataID
}

// Get reads the referenced dataset.
func (r *DataRef) Get(ctx context.Context) (any, error) {
	return r.butler.Get(ctx, r.DatasetType, r.DataID)
}

// Put writes value as the referenced dataset.
func (r *DataRef) Put(ctx context.Context, value any) error {
	return r.butler.Put(ctx, value, r.DatasetType, r.DataID)
}

func (r *DataRef) String() string {
	return fmt.Sprintf("DataRef(%s, %s)", r.DatasetType, r.DataID)
}

// GetRefSet returns a reference to every stored dataset of datasetType
// consistent with partial.
func (b *Butler) GetRefSet(ctx context.Context, datasetType string, partial dataid.DataID) ([]*DataRef, error) {
	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return nil, err
	}
	ids, err := b.ListDatasets(ctx, dt, partial)
	if err != nil {
		return nil, err
	}
	refs := make([]*DataRef, len(ids))
	for i, id := range ids {
		refs[i] = &DataRef{butler: b, DatasetType: dt, DataID: id}
	}
	return refs, nil
}

// DataRef returns a reference to the dataset of datasetType identified by id
// without checking that it exists.
func (b *Butler) DataRef(datasetType string, id dataid.DataID) (*DataRef, error) {
	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return nil, err
	}
	return &DataRef{butler: b, DatasetType: dt, DataID: id.Clone()}, nil
}
