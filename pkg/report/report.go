// Package report formats the end-of-run summary printed to the terminal.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Status of one input file.
type Status int

const (
	StatusOK Status = iota
	StatusNoNotes
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoNotes:
		return "no notes"
	case StatusUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// FileResult records what one input file contributed.
type FileResult struct {
	Path        string
	Name        string
	Notes       int
	Transitions int
	Status      Status
	Err         error
}

// Summary describes a whole run.
type Summary struct {
	Files       []FileResult
	Order       int
	Contexts    int
	Transitions int
	Generated   int
	Reason      string
	Output      string
	WAV         string
	Seed        uint64
}

// Used reports how many files contributed notes.
func (s Summary) Used() int {
	n := 0
	for _, f := range s.Files {
		if f.Status == StatusOK {
			n++
		}
	}
	return n
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("#00AF00"))
	warnStyle   = cellStyle.Foreground(lipgloss.Color("#FFD700"))
	errStyle    = cellStyle.Foreground(lipgloss.Color("#FF5F5F"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).Width(12)
)

// Render returns the per-file table followed by the totals.
func Render(s Summary) string {
	rows := make([][]string, 0, len(s.Files))
	for _, f := range s.Files {
		name := f.Path
		if f.Name != "" {
			name = fmt.Sprintf("%s (%s)", f.Path, f.Name)
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(f.Notes),
			strconv.Itoa(f.Transitions),
			f.Status.String(),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("FILE", "NOTES", "TRANSITIONS", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 3 && row >= 0 && row < len(s.Files) {
				switch s.Files[row].Status {
				case StatusOK:
					return okStyle
				case StatusNoNotes:
					return warnStyle
				default:
					return errStyle
				}
			}
			return cellStyle
		})

	var b strings.Builder
	b.WriteString(titleStyle.Render("markov-music"))
	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")

	line := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}
	line("files", fmt.Sprintf("%d of %d used", s.Used(), len(s.Files)))
	line("order", strconv.Itoa(s.Order))
	line("contexts", strconv.Itoa(s.Contexts))
	line("transitions", strconv.Itoa(s.Transitions))
	if s.Reason != "" {
		line("generated", fmt.Sprintf("%d events (%s)", s.Generated, s.Reason))
	} else {
		line("generated", fmt.Sprintf("%d events", s.Generated))
	}
	line("seed", strconv.FormatUint(s.Seed, 10))
	if s.Output != "" {
		line("output", s.Output)
	}
	if s.WAV != "" {
		line("wav", s.WAV)
	}
	return b.String()
}
