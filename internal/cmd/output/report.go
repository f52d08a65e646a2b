package output

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/report"
)

var title = cases.Title(language.English)

// SummaryData tabulates report counts per kind, in dependency order, with a
// total row.
func SummaryData(r *report.Report) Data {
	data := Data{
		Headers: []string{"Kind", "Created", "Updated", "Deleted", "Published", "Unpublished", "Skipped", "Failed", "Relocated"},
		ColumnAlignment: []Align{
			AlignLeft, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight,
		},
	}

	kinds := make([]catalog.Kind, 0, len(r.ByKind))
	for kind := range r.ByKind {
		kinds = append(kinds, kind)
	}
	order := catalog.Kinds()
	slices.SortFunc(kinds, func(a, b catalog.Kind) int {
		return slices.Index(order, a) - slices.Index(order, b)
	})

	for _, kind := range kinds {
		data.Rows = append(data.Rows, countsRow(title.String(kind.String()), r.ByKind[kind]))
	}
	data.Rows = append(data.Rows, countsRow("Total", r.Counts))
	return data
}

func countsRow(label string, c report.Counts) []string {
	return []string{
		label,
		strconv.Itoa(c.Created),
		strconv.Itoa(c.Updated),
		strconv.Itoa(c.Deleted),
		strconv.Itoa(c.Published),
		strconv.Itoa(c.Unpublished),
		strconv.Itoa(c.Skipped),
		strconv.Itoa(c.Failed),
		strconv.Itoa(c.Relocated),
	}
}

// FailureData tabulates failures or ambiguities.
func FailureData(heading string, failures []report.Failure) Data {
	data := Data{
		Title:   heading,
		Headers: []string{"Kind", "Entity", "Platform", "Operation", "Class", "Error"},
	}
	for _, f := range failures {
		data.Rows = append(data.Rows, []string{
			f.Kind.String(), f.InternalID, f.Platform.String(), f.Operation.String(), f.Class, f.Message,
		})
	}
	return data
}

// PlannedData tabulates the actions of a dry run.
func PlannedData(planned []report.Planned) Data {
	data := Data{
		Title:   "Planned actions",
		Headers: []string{"Kind", "Entity", "Platform", "Operation", "External ID", "Key"},
	}
	for _, p := range planned {
		data.Rows = append(data.Rows, []string{
			p.Kind.String(), p.InternalID, p.Platform.String(), p.Operation.String(), p.ExternalID, p.Key,
		})
	}
	return data
}

func (f *TableFormatter) formatReport(w io.Writer, r *report.Report) error {
	mode := "live"
	if r.DryRun {
		mode = "dry run"
	}
	if _, err := fmt.Fprintf(w, "Run %s (%s) finished in %s\n", r.RunID, mode, r.Duration().Round(time.Millisecond)); err != nil {
		return err
	}
	if r.Fatal != "" {
		if _, err := fmt.Fprintf(w, "Aborted: %s\n", r.Fatal); err != nil {
			return err
		}
	}
	if err := renderTable(w, SummaryData(r)); err != nil {
		return err
	}

	// Ambiguities always need a human; the rest only in wide mode.
	if len(r.Ambiguities) > 0 {
		if err := renderTable(w, FailureData("Ambiguous matches", r.Ambiguities)); err != nil {
			return err
		}
	}
	if !f.Wide {
		if n := len(r.Failures); n > 0 {
			_, err := fmt.Fprintf(w, "%d failures; use --format wide to list them\n", n)
			return err
		}
		return nil
	}
	if len(r.Failures) > 0 {
		if err := renderTable(w, FailureData("Failures", r.Failures)); err != nil {
			return err
		}
	}
	if len(r.Planned) > 0 {
		return renderTable(w, PlannedData(r.Planned))
	}
	return nil
}
