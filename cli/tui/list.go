package tui

import (
	"fmt"
	"strings"
)

// renderList renders the context list view.
func renderList(m *Model) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf(" webverify · %d contexts", len(m.rows))))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(subtleStyle.Render("  No browsing contexts.\n"))
	} else {
		visibleLines := m.height - 7
		if visibleLines < 1 {
			visibleLines = 1
		}
		start := m.cursor - visibleLines/2
		if start < 0 {
			start = 0
		}
		end := start + visibleLines
		if end > len(m.rows) {
			end = len(m.rows)
			start = end - visibleLines
			if start < 0 {
				start = 0
			}
		}

		for i := start; i < end; i++ {
			b.WriteString(renderRow(m.rows[i], i == m.cursor))
			b.WriteString("\n")
		}
	}

	b.WriteString(renderNotice(m))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(" ↑↓ navigate  enter detail  a approve  r reject  f forget  i ignore  q quit"))
	b.WriteString("\n")
	return b.String()
}

func renderRow(r *row, selected bool) string {
	badge := statusBadge(r.outcome.Status, !r.known)
	author := ""
	if a := r.outcome.Author; a != nil {
		author = a.Name
		if a.Email != "" {
			author += " <" + a.Email + ">"
		}
	}
	line := fmt.Sprintf(" %s  %-8s  %s  %s", badge, r.ContextID, urlStyle.Render(r.URL), author)
	if selected {
		return selectedStyle.Render("▸") + line
	}
	return " " + line
}

func renderNotice(m *Model) string {
	if m.notice == "" {
		return ""
	}
	if m.noticeErr {
		return "\n " + errorStyle.Render(m.notice) + "\n"
	}
	return "\n " + noticeStyle.Render(m.notice) + "\n"
}
