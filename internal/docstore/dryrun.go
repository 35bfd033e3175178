package docstore

import "context"

// DryRun wraps a Store so that reads pass through and writes validate but
// never land. Wrapping at construction time means the whole pipeline runs
// its real logic, LLM calls included, against the real index state.
type DryRun struct {
	inner Store
}

// NewDryRun returns a write-absorbing view of inner.
func NewDryRun(inner Store) *DryRun {
	return &DryRun{inner: inner}
}

func (d *DryRun) Ping(ctx context.Context) error { return d.inner.Ping(ctx) }

// Upsert runs the shared write validation and drops the document.
func (d *DryRun) Upsert(_ context.Context, doc *Document) error {
	return validateForWrite(doc)
}

// DeleteByQuery reports how many documents a real run would remove.
func (d *DryRun) DeleteByQuery(ctx context.Context, q Query) (int, error) {
	return d.inner.CountBy(ctx, q)
}

func (d *DryRun) Get(ctx context.Context, id string) (*Document, error) {
	return d.inner.Get(ctx, id)
}

func (d *DryRun) FindOne(ctx context.Context, q Query) (*Document, error) {
	return d.inner.FindOne(ctx, q)
}

func (d *DryRun) List(ctx context.Context, q Query) ([]*Document, error) {
	return d.inner.List(ctx, q)
}

func (d *DryRun) ListRepoIDs(ctx context.Context) ([]string, error) {
	return d.inner.ListRepoIDs(ctx)
}

func (d *DryRun) CountBy(ctx context.Context, q Query) (int, error) {
	return d.inner.CountBy(ctx, q)
}

func (d *DryRun) Search(ctx context.Context, q Query, vector []float32, k int) ([]SearchResult, error) {
	return d.inner.Search(ctx, q, vector, k)
}

func (d *DryRun) Close() error { return d.inner.Close() }
