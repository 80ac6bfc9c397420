package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/malbeclabs/insights/indexer/pkg/embedding"
	"github.com/malbeclabs/insights/search/pkg/search"
)

func printResults(w io.Writer, question string, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No insights found for %q.\n", question)
		return
	}
	fmt.Fprintf(w, "Top %d insights for %q:\n\n", len(results), question)
	for i, r := range results {
		rec := r.Record
		fmt.Fprintf(w, "%d. [%s] %s (similarity %.3f, %s rows)\n", i+1, rec.SourceTable, rec.StrategyName, r.Similarity, humanize.Comma(int64(rec.RecordCount)))
		fmt.Fprintf(w, "   %s\n", rec.SummaryText)
		if !rec.CreatedAt.IsZero() {
			fmt.Fprintf(w, "   indexed %s\n", humanize.Time(rec.CreatedAt))
		}
		fmt.Fprintln(w)
	}
}

func printUsage(w io.Writer, u embedding.Usage) {
	fmt.Fprintf(w, "Query embedding: %s, %d tokens, $%.6f\n", u.Model, u.Tokens, u.CostUSD)
}
