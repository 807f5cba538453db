package ui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/apptindex/internal/document"
	"github.com/Aman-CERP/apptindex/internal/search"
)

// maxColumnWidth truncates long names, emails and titles in table mode.
const maxColumnWidth = 32

var resultColumns = []string{"ID", "DATE", "START", "END", "NAME", "EMAIL", "PHONE", "FORM", "STATE", "SEATS", "STATUS"}

// ResultsRenderer writes search pages.
type ResultsRenderer struct {
	cfg    Config
	styles Styles
}

// NewResultsRenderer creates a results renderer.
func NewResultsRenderer(cfg Config) *ResultsRenderer {
	return &ResultsRenderer{cfg: cfg, styles: GetStyles(cfg.NoColor)}
}

// Render writes page, whose first item is at offset start.
func (r *ResultsRenderer) Render(page search.Page, start int) error {
	if r.cfg.Format == FormatJSON {
		encoder := json.NewEncoder(r.cfg.Output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(page)
	}
	return r.renderTable(page, start)
}

func (r *ResultsRenderer) renderTable(page search.Page, start int) error {
	out := r.cfg.Output
	if len(page.Items) == 0 {
		_, err := fmt.Fprintf(out, "%s\n", r.styles.Dim.Render(fmt.Sprintf("No appointments (%d matching).", page.Total)))
		return err
	}

	rows := make([][]string, 0, len(page.Items))
	for _, item := range page.Items {
		rows = append(rows, itemRow(item))
	}

	widths := make([]int, len(resultColumns))
	for i, col := range resultColumns {
		widths[i] = len(col)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], min(lipgloss.Width(cell), maxColumnWidth))
		}
	}

	header := make([]string, len(resultColumns))
	for i, col := range resultColumns {
		header[i] = r.styles.Column.Render(pad(col, widths[i]))
	}
	if _, err := fmt.Fprintln(out, strings.Join(header, "  ")); err != nil {
		return err
	}

	for n, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = pad(truncate(cell, widths[i]), widths[i])
		}
		last := len(cells) - 1
		if page.Items[n].Cancelled {
			cells[last] = r.styles.Error.Render(cells[last])
		} else {
			cells[last] = r.styles.Success.Render(cells[last])
		}
		if _, err := fmt.Fprintln(out, strings.Join(cells, "  ")); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(out, "\n%s\n", r.styles.Label.Render(
		fmt.Sprintf("Showing %d-%d of %d", start+1, start+len(page.Items), page.Total)))
	return err
}

func itemRow(item document.SearchItem) []string {
	name := strings.TrimSpace(item.FirstName + " " + item.LastName)
	form := item.FormTitle
	if form == "" {
		form = "#" + strconv.Itoa(item.FormID)
	}
	state := item.StateTitle
	if state == "" && item.StateID != document.Missing {
		state = "#" + strconv.Itoa(item.StateID)
	}
	status := "active"
	if item.Cancelled {
		status = "cancelled"
	}
	return []string{
		strconv.Itoa(item.ID),
		item.DateOfAppointment,
		item.StartingTime,
		item.EndingTime,
		name,
		item.Email,
		item.PhoneNumber,
		form,
		state,
		strconv.Itoa(item.NbSeats),
		status,
	}
}

func pad(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if width <= 1 || len(runes) <= 1 {
		return string(runes[:min(len(runes), max(width, 0))])
	}
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
