package admin

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/malbeclabs/insights/indexer/pkg/store"
)

type RunLog interface {
	Runs(ctx context.Context, sourceTable string, limit int) ([]store.Run, error)
}

func PrintSummary(ctx context.Context, st EmbeddingStore, f store.Filter, w io.Writer) error {
	rows, err := st.Summary(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to summarize embeddings: %w", err)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No embeddings stored")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSTRATEGY\tRECORDS\tROWS COVERED\tMODEL\tLAST INDEXED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.SourceTable, r.StrategyName,
			humanize.Comma(int64(r.Records)), humanize.Comma(int64(r.RecordsRepresented)),
			r.Model, humanize.Time(r.LastCreated))
	}
	return tw.Flush()
}

func PrintRuns(ctx context.Context, runs RunLog, sourceTable string, limit int, w io.Writer) error {
	rows, err := runs.Runs(ctx, sourceTable, limit)
	if err != nil {
		return fmt.Errorf("failed to load runs: %w", err)
	}
	if len(rows) == 0 {
		fmt.Fprintf(w, "No runs recorded for %s\n", sourceTable)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN\tSTRATEGY\tSTATUS\tGROUPS\tRECORDS\tTOKENS\tCOST\tERROR")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t$%.4f\t%s\n",
			r.StartedAt.UTC().Format("2006-01-02 15:04:05"), r.RunID.String()[:8], r.StrategyName, r.Status,
			r.Groups, r.RecordsWritten, humanize.Comma(int64(r.Tokens)), r.CostUSD, r.Error)
	}
	return tw.Flush()
}
