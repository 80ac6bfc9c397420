package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse/dataset"
	"github.com/malbeclabs/insights/indexer/pkg/indexer"
	"github.com/malbeclabs/insights/indexer/pkg/store"
)

func printCatalog(w io.Writer, plan *indexer.Plan) {
	cat := plan.Catalog
	fmt.Fprintf(w, "Table %s: %s rows, %d columns\n", plan.Table, humanize.Comma(int64(cat.RowCount)), len(cat.Report))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  COLUMN\tTYPE\tROLE\tDISTINCT\tNOTE")
	for _, c := range cat.Report {
		distinct := "-"
		if c.DistinctKnown {
			distinct = humanize.Comma(int64(c.Distinct))
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", c.Column.Name, c.Column.DeclaredType, c.Role, distinct, c.Note)
	}
	_ = tw.Flush()

	for _, p := range cat.Geospatial {
		fmt.Fprintf(w, "  geospatial pair: %s / %s\n", p.Lon.Name, p.Lat.Name)
	}
	if plan.CatalogErr != nil {
		fmt.Fprintf(w, "\nNo strategies: %v\n", plan.CatalogErr)
	}
	fmt.Fprintln(w)
}

func printSample(w io.Writer, res *dataset.QueryResult) {
	fmt.Fprintf(w, "Sample (%d rows):\n", res.Count)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  "+strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			cells[i] = fmt.Sprint(row[c])
		}
		fmt.Fprintln(tw, "  "+strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}

func printStrategies(w io.Writer, plan *indexer.Plan) {
	fmt.Fprintf(w, "%d strategies:\n", len(plan.Strategies))
	for _, s := range plan.Strategies {
		fmt.Fprintf(w, "  %-40s %s\n", s.Name, s.Description())
	}
	if len(plan.Unknown) > 0 {
		fmt.Fprintf(w, "Unknown strategies ignored: %s\n", strings.Join(plan.Unknown, ", "))
	}
}

func printEstimates(w io.Writer, plan *indexer.Plan) {
	if len(plan.Strategies) == 0 {
		return
	}
	est := plan.Estimates
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tGROUPS\tBASIS\tTOKENS\tCOST\tWARNINGS")
	for _, e := range est.Estimates {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t$%.4f\t%s\n",
			e.StrategyName, humanize.Comma(int64(e.Groups)), e.Basis, humanize.Comma(int64(e.Tokens)),
			e.CostUSD, strings.Join(e.Warnings, "; "))
	}
	fmt.Fprintf(tw, "TOTAL\t%s\t\t%s\t$%.4f\t\n",
		humanize.Comma(int64(est.TotalGroups)), humanize.Comma(int64(est.TotalTokens)), est.TotalCostUSD)
	_ = tw.Flush()
	for _, f := range est.Failures {
		fmt.Fprintf(w, "estimate failed for %s: %v\n", f.Strategy, f.Err)
	}
}

func printSummary(w io.Writer, sum *indexer.Summary) {
	fmt.Fprintf(w, "\nRun %s\n", sum.RunID)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tSTATUS\tGROUPS\tRECORDS\tTOKENS\tDURATION\tERROR")
	for _, r := range sum.Results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.Strategy, r.Status, r.Groups, r.Records, humanize.Comma(r.Tokens), r.Duration.Round(time.Millisecond), errText)
	}
	_ = tw.Flush()

	u := sum.Usage
	fmt.Fprintf(w, "\n%d succeeded, %d failed, %d skipped; %s records written\n",
		sum.Count(store.RunStatusSuccess), sum.Count(store.RunStatusFailed), sum.Count(store.RunStatusSkipped),
		humanize.Comma(int64(sum.RecordsWritten())))
	fmt.Fprintf(w, "Embedding usage: model %s (%d dims), %d requests, %d retries, %s tokens, $%.4f\n",
		u.Model, u.Dimensions, u.Requests, u.Retries, humanize.Comma(u.Tokens), u.CostUSD)
}
