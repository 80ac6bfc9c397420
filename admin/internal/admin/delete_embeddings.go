package admin

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/utils/pkg/prompt"
)

type EmbeddingStore interface {
	Summary(ctx context.Context, f store.Filter) ([]store.SummaryRow, error)
	Delete(ctx context.Context, f store.Filter) (uint64, error)
}

type DeleteEmbeddingsConfig struct {
	Filter      store.Filter
	DryRun      bool
	SkipConfirm bool
	In          io.Reader
	Out         io.Writer
}

// DeleteEmbeddings removes stored records for a source table, a strategy,
// or both, after listing what would go.
func DeleteEmbeddings(ctx context.Context, st EmbeddingStore, cfg DeleteEmbeddingsConfig) error {
	if cfg.Filter.SourceTable == "" && cfg.Filter.Strategy == "" {
		return errors.New("--table or --strategy is required for --delete-embeddings")
	}
	out := cfg.Out

	rows, err := st.Summary(ctx, cfg.Filter)
	if err != nil {
		return fmt.Errorf("failed to summarize embeddings: %w", err)
	}
	var total uint64
	for _, r := range rows {
		total += r.Records
	}
	if total == 0 {
		fmt.Fprintln(out, "No embeddings found matching filter")
		return nil
	}

	fmt.Fprintf(out, "WARNING: This will DELETE %s record(s):\n\n", humanize.Comma(int64(total)))
	for _, r := range rows {
		fmt.Fprintf(out, "  - %s / %s: %s records\n", r.SourceTable, r.StrategyName, humanize.Comma(int64(r.Records)))
	}

	if cfg.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would delete the above records")
		return nil
	}

	if !cfg.SkipConfirm {
		ok, err := prompt.Confirm(cfg.In, out, "\nThis is a DESTRUCTIVE operation that cannot be undone!")
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	n, err := st.Delete(ctx, cfg.Filter)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	fmt.Fprintf(out, "Successfully deleted %s record(s)\n", humanize.Comma(int64(n)))
	return nil
}
