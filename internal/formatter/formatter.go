// package formatter renders run summaries and catalog statistics as text, CSV or Markdown tables
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/spx/internal/repositories"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/desertthunder/spx/internal/tasks"
)

// Output formats accepted by [Render].
const (
	FormatText     = "text"
	FormatCSV      = "csv"
	FormatMarkdown = "md"
)

// Table is a titled grid of cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// ImportSummary tabulates the counters of an import run.
func ImportSummary(res *tasks.ReconcileResult) Table {
	return metricTable("Import summary", []metric{
		{"Files", res.Files},
		{"Files skipped", res.FilesFailed},
		{"Records", res.Records},
		{"Plays inserted", res.Inserted},
		{"Tracks created", res.TracksCreated},
		{"Duplicates", res.SkippedDuplicate},
		{"Local files", res.SkippedLocal},
		{"Invalid records", res.SkippedInvalid},
		{"Not in catalog", res.NotFound},
		{"Abandoned", res.Abandoned},
		{"Rolled back", res.RolledBack},
		{"Catalog lookups", res.Lookups},
		{"Batches abandoned", res.BatchesAbandoned},
		{"Commit failures", res.CommitFailures},
		{"Duration", res.Duration.Round(time.Millisecond)},
	})
}

// CollectSummary tabulates a recently-played collection.
func CollectSummary(res *tasks.CollectResult) Table {
	return metricTable("Collect summary", []metric{
		{"Fetched", res.Fetched},
		{"Plays inserted", res.Inserted},
		{"Tracks created", res.TracksCreated},
	})
}

// CountsTable tabulates row counts per table.
func CountsTable(c repositories.Counts) Table {
	return metricTable("Catalog", []metric{
		{"Albums", c.Albums},
		{"Artists", c.Artists},
		{"Tracks", c.Tracks},
		{"Live plays", c.Plays},
		{"Historical plays", c.HistoricalPlays},
	})
}

// TopTracksTable ranks tracks by play count.
func TopTracksTable(title string, top []repositories.TrackCount) Table {
	t := Table{Title: title, Headers: []string{"#", "Track", "Spotify ID", "Plays"}}
	for i, tc := range top {
		t.Rows = append(t.Rows, []string{strconv.Itoa(i + 1), tc.Track.Name, tc.Track.ExternalID, strconv.Itoa(tc.Plays)})
	}
	return t
}

type metric struct {
	label string
	value any
}

func metricTable(title string, metrics []metric) Table {
	t := Table{Title: title, Headers: []string{"Metric", "Value"}}
	for _, m := range metrics {
		t.Rows = append(t.Rows, []string{m.label, fmt.Sprint(m.value)})
	}
	return t
}

// Render encodes t in format.
func Render(t Table, format string) ([]byte, error) {
	switch format {
	case "", FormatText:
		return ToText(t), nil
	case FormatCSV:
		return ToCSV(t)
	case FormatMarkdown:
		return ToMarkdown(t), nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

// ToText draws t as a bordered terminal table.
func ToText(t Table) []byte {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(t.Headers...).
		Rows(t.Rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})

	var buf bytes.Buffer
	if t.Title != "" {
		fmt.Fprintf(&buf, "%s\n", t.Title)
	}
	buf.WriteString(tbl.Render())
	buf.WriteString("\n")
	return buf.Bytes()
}

// ToCSV writes the headers and rows of t. The title is omitted.
func ToCSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(t.Headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("failed to write CSV records: %w", err)
	}

	return buf.Bytes(), nil
}

// ToMarkdown writes t as a GitHub-flavored Markdown table under a heading.
func ToMarkdown(t Table) []byte {
	var buf bytes.Buffer

	if t.Title != "" {
		fmt.Fprintf(&buf, "## %s\n\n", t.Title)
	}

	row := func(cells []string) {
		escaped := make([]string, len(cells))
		for i, c := range cells {
			escaped[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		fmt.Fprintf(&buf, "| %s |\n", strings.Join(escaped, " | "))
	}

	row(t.Headers)
	sep := make([]string, len(t.Headers))
	for i := range sep {
		sep[i] = "---"
	}
	row(sep)
	for _, r := range t.Rows {
		row(r)
	}

	return buf.Bytes()
}

// WriteFile renders t in format and writes it to path.
func WriteFile(t Table, format, path string) error {
	data, err := Render(t, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
