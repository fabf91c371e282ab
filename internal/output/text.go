package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/chis/regview/internal/aggregate"
	"github.com/chis/regview/internal/registry"
	"github.com/chis/regview/internal/storage"
)

// Shared color scheme
var (
	ColorSuccess = lipgloss.Color("42")  // Green
	ColorWarning = lipgloss.Color("226") // Yellow
	ColorError   = lipgloss.Color("196") // Red
	ColorMuted   = lipgloss.Color("240") // Gray
	ColorTitle   = lipgloss.Color("212") // Pink
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorTitle)
	HeaderStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	CellStyle    = lipgloss.NewStyle().Padding(0, 1)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(MutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle
			}
			return CellStyle
		})
}

// RenderImages writes one row per repository. Degraded rows show the error.
func RenderImages(w io.Writer, registryName string, summaries []aggregate.ImageSummary) error {
	t := newTable("REPOSITORY", "TAGS", "SIZE", "LAYERS", "CREATED", "STATUS")
	for _, s := range summaries {
		created := createdLabel(s.Created)
		status := "ok"
		if s.Degraded() {
			status = "error: " + s.Error
		}
		t.Row(
			s.Name,
			tagList(s.Tags),
			humanize.Bytes(uint64(s.Size)),
			fmt.Sprintf("%d", len(s.Layers)),
			created,
			status,
		)
	}

	degraded := aggregate.CountDegraded(summaries)
	footer := fmt.Sprintf("%d repositories", len(summaries))
	if degraded > 0 {
		footer += WarningStyle.Render(fmt.Sprintf(", %d degraded", degraded))
	}

	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n", TitleStyle.Render(registryName), t.String(), MutedStyle.Render(footer))
	return err
}

func tagList(tags []string) string {
	const shown = 3
	if len(tags) == 0 {
		return "-"
	}
	if len(tags) <= shown {
		return strings.Join(tags, ", ")
	}
	return fmt.Sprintf("%s (+%d)", strings.Join(tags[:shown], ", "), len(tags)-shown)
}

// createdLabel renders an RFC 3339 timestamp relatively and anything else
// as the registry reported it.
func createdLabel(created string) string {
	if created == "" {
		return "-"
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		return humanize.Time(t)
	}
	return created
}

// RenderRegistries writes the stored descriptors. Passwords are never shown.
func RenderRegistries(w io.Writer, descriptors []registry.Descriptor) error {
	if len(descriptors) == 0 {
		_, err := fmt.Fprintln(w, MutedStyle.Render("No registries configured"))
		return err
	}
	t := newTable("ID", "NAME", "ADDRESS", "TLS", "USER")
	for _, d := range descriptors {
		tls := "no"
		if d.UseSSL {
			tls = "yes"
		}
		user := d.Username
		if user == "" {
			user = "-"
		}
		t.Row(d.ID, d.Name, d.Address(), tls, user)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// RenderReport writes a connection test outcome.
func RenderReport(w io.Writer, d registry.Descriptor, report registry.ConnectionReport) error {
	var line string
	if report.Success {
		line = SuccessStyle.Render("✓ connected") +
			fmt.Sprintf(" to %s (API %s) in %dms", d.BaseURL(), report.APIVersion, report.ResponseTimeMs)
	} else {
		line = ErrorStyle.Render("✗ failed") +
			fmt.Sprintf(" %s: %s (%dms)", d.BaseURL(), report.Message, report.ResponseTimeMs)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// RenderHistory writes recorded scans, newest first.
func RenderHistory(w io.Writer, records []storage.ScanRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, MutedStyle.Render("No scans recorded"))
		return err
	}
	t := newTable("STARTED", "DURATION", "REPOS", "DEGRADED", "ERROR")
	for _, r := range records {
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		t.Row(humanize.Time(r.StartedAt), fmt.Sprintf("%dms", r.DurationMs),
			fmt.Sprintf("%d", r.Repositories), fmt.Sprintf("%d", r.Degraded), errText)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}
