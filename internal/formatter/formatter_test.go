package formatter

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/repositories"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/desertthunder/spx/internal/tasks"
	tu "github.com/desertthunder/spx/internal/testing"
)

func TestTables(t *testing.T) {
	t.Run("ImportSummary", func(t *testing.T) {
		tbl := ImportSummary(&tasks.ReconcileResult{Records: 60, Inserted: 55, SkippedDuplicate: 5, Duration: 1500 * time.Millisecond})

		values := map[string]string{}
		for _, r := range tbl.Rows {
			values[r[0]] = r[1]
		}
		if values["Records"] != "60" || values["Plays inserted"] != "55" || values["Duplicates"] != "5" {
			t.Errorf("unexpected rows %v", tbl.Rows)
		}
		if values["Duration"] != "1.5s" {
			t.Errorf("expected duration 1.5s, got %s", values["Duration"])
		}
	})

	t.Run("TopTracksTable", func(t *testing.T) {
		tbl := TopTracksTable("Top tracks", []repositories.TrackCount{
			{Track: models.Track{ExternalID: "a", Name: "Song A"}, Plays: 3},
			{Track: models.Track{ExternalID: "b", Name: "Song B"}, Plays: 1},
		})
		if len(tbl.Rows) != 2 || tbl.Rows[0][0] != "1" || tbl.Rows[0][1] != "Song A" || tbl.Rows[1][3] != "1" {
			t.Errorf("unexpected rows %v", tbl.Rows)
		}
	})
}

func TestRender(t *testing.T) {
	tbl := Table{
		Title:   "Catalog",
		Headers: []string{"Metric", "Value"},
		Rows:    [][]string{{"Tracks", "12"}, {"Pipes | here", "1"}},
	}

	t.Run("text", func(t *testing.T) {
		data, err := Render(tbl, FormatText)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		out := string(data)
		if !strings.HasPrefix(out, "Catalog\n") || !strings.Contains(out, "Tracks") || !strings.Contains(out, "12") {
			t.Errorf("unexpected text output:\n%s", out)
		}
	})

	t.Run("csv", func(t *testing.T) {
		data, err := Render(tbl, FormatCSV)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if string(data) != "Metric,Value\nTracks,12\nPipes | here,1\n" {
			t.Errorf("unexpected csv output %q", data)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		data, err := Render(tbl, FormatMarkdown)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		out := string(data)
		for _, want := range []string{"## Catalog", "| Metric | Value |", "| --- | --- |", `| Pipes \| here | 1 |`} {
			if !strings.Contains(out, want) {
				t.Errorf("markdown missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := Render(tbl, "xml"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("WriteFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stats.csv")
		if err := WriteFile(tbl, FormatCSV, path); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		tu.AssertFileExists(t, path)
		if content := tu.MustReadFile(t, path); !strings.Contains(content, "Tracks,12") {
			t.Errorf("unexpected file content %q", content)
		}
	})
}
