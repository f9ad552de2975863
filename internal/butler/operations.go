package butler

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/log"
	"github.com/zjrosen/butler/internal/mapper"
	"github.com/zjrosen/butler/internal/provenance"
	"github.com/zjrosen/butler/internal/storage"
	"github.com/zjrosen/butler/internal/tracing"
)

// Get reads the dataset of datasetType identified by id. Missing keys are
// filled by defaults, lookups and discovery.
func (b *Butler) Get(ctx context.Context, datasetType string, id dataid.DataID) (_ any, err error) {
	ctx, span := b.start(ctx, "get", datasetType, attribute.String(tracing.AttrDataID, id.String()))
	defer func() { tracing.Finish(span, err) }()

	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return nil, err
	}
	value, locs, err := b.Resolver().Read(ctx, dt, id)
	if err != nil {
		log.ErrorErr(log.CatButler, "Get failed", err, "datasetType", dt, "dataId", id.String())
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrLocationCount, len(locs)))
	b.prov.Append(provenance.OperationGet, dt, locs[0].DataID(), mapper.URLs(locs))
	return value, nil
}

// Put writes value as the dataset of datasetType identified by id.
//
// The write holds the lock of kind "<datasetType>:<data id>" in the output
// repository. Writing content identical to what is already stored succeeds
// without touching storage; different content fails with an
// OverwriteConflictError.
func (b *Butler) Put(ctx context.Context, value any, datasetType string, id dataid.DataID) (err error) {
	ctx, span := b.start(ctx, "put", datasetType, attribute.String(tracing.AttrDataID, id.String()))
	defer func() { tracing.Finish(span, err) }()

	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return err
	}
	r := b.Resolver()
	locs, err := r.Map(ctx, dt, id, true)
	if err != nil {
		log.ErrorErr(log.CatButler, "Put failed to map", err, "datasetType", dt, "dataId", id.String())
		return err
	}
	full := locs[0].DataID()
	kind := LockKind(dt, full)
	span.SetAttributes(attribute.String(tracing.AttrLockKind, kind), attribute.Int(tracing.AttrLocationCount, len(locs)))

	locker, err := b.writeLock()
	if err != nil {
		return err
	}
	var idempotent bool
	err = locker.WithLock(ctx, kind, func(ctx context.Context) error {
		span.AddEvent(tracing.EventLockAcquired)
		if r.LocationsExist(locs) {
			if err := b.compareExisting(ctx, r, dt, full, locs, value); err != nil {
				return err
			}
			idempotent = true
			return nil
		}
		for _, loc := range locs {
			if err := loc.Write(ctx, value); err != nil {
				return err
			}
		}
		return r.Record(ctx, dt, full)
	})
	if err != nil {
		log.ErrorErr(log.CatButler, "Put failed", err, "datasetType", dt, "dataId", full.String())
		return err
	}

	span.SetAttributes(attribute.Bool(tracing.AttrIdempotent, idempotent))
	if idempotent {
		log.Debug(log.CatButler, "Put matched stored content", "datasetType", dt, "dataId", full.String())
	}
	b.prov.Append(provenance.OperationPut, dt, full, mapper.URLs(locs))
	return nil
}

// compareExisting reads the stored dataset and fails unless it matches value.
func (b *Butler) compareExisting(ctx context.Context, r *mapper.Resolver, datasetType string, id dataid.DataID, locs []*mapper.Location, value any) error {
	stored, _, err := r.Read(ctx, datasetType, id)
	if err != nil {
		return fmt.Errorf("failed to read existing %s %s: %w", datasetType, id, err)
	}
	if storage.SameContent(stored, value) {
		return nil
	}
	return &OverwriteConflictError{
		DatasetType: datasetType,
		DataID:      id,
		Locations:   mapper.URLs(locs),
		Diff:        diffSummary(storage.Describe(stored), storage.Describe(value)),
	}
}

// LockKind names the write lock of one dataset.
func LockKind(datasetType string, id dataid.DataID) string {
	return datasetType + ":" + id.String()
}

// Map resolves datasetType and id to storage locations without reading.
func (b *Butler) Map(ctx context.Context, datasetType string, id dataid.DataID, forWrite bool) ([]*mapper.Location, error) {
	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return nil, err
	}
	return b.Resolver().Map(ctx, dt, id, forWrite)
}

// ListDatasets returns the identifiers of every stored dataset of
// datasetType consistent with partial.
func (b *Butler) ListDatasets(ctx context.Context, datasetType string, partial dataid.DataID) (_ []dataid.DataID, err error) {
	ctx, span := b.start(ctx, "list", datasetType, attribute.String(tracing.AttrDataID, partial.String()))
	defer func() { tracing.Finish(span, err) }()

	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return nil, err
	}
	ids, err := b.Resolver().ListDatasets(ctx, dt, partial)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrResultCount, len(ids)))
	return ids, nil
}

// DatasetExists reports whether the dataset is stored in the output repository.
func (b *Butler) DatasetExists(ctx context.Context, datasetType string, id dataid.DataID) (bool, error) {
	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return false, err
	}
	return b.Resolver().DatasetExists(ctx, dt, id)
}

// GetKeys returns every identifier key meaningful for datasetType, or for
// any dataset type when datasetType is empty.
func (b *Butler) GetKeys(datasetType string) (dataid.KeySet, error) {
	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return nil, err
	}
	return b.Resolver().GetKeys(dt, false)
}

// GetRequiredKeys returns the keys named by datasetType's URL templates.
func (b *Butler) GetRequiredKeys(datasetType string) (dataid.KeySet, error) {
	dt, err := b.ResolveAlias(datasetType)
	if err != nil {
		return nil, err
	}
	return b.Resolver().GetKeys(dt, true)
}

// DatasetTypes lists every dataset type of the repository chain, sorted.
func (b *Butler) DatasetTypes() []string {
	return b.Resolver().DatasetTypes()
}

// RecordedTypes lists the dataset types with at least one identifier
// recorded in the output repository's registry, sorted. Only puts through
// the registry capability record identifiers.
func (b *Butler) RecordedTypes(ctx context.Context) ([]string, error) {
	db, err := b.Resolver().RegistryDB()
	if err != nil {
		return nil, err
	}
	return db.DatasetRegistry().Types(ctx)
}
