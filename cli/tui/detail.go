package tui

import (
	"fmt"
	"strings"

	"github.com/webverify/webverify/trust"
)

// renderDetail renders the outcome of the selected context.
func renderDetail(m *Model) string {
	r := m.selected()
	if r == nil {
		return "No context selected."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(" %s · %s\n", keyIDStyle.Render(r.ContextID), urlStyle.Render(r.URL)))
	b.WriteString(headerStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n\n")

	if !r.known {
		b.WriteString(subtleStyle.Render(" Waiting for verification...") + "\n")
	} else {
		o := r.outcome
		b.WriteString(" " + statusStyle(o.Status).Render(string(o.Status)))
		if o.FromCache && o.IsVerdict() {
			b.WriteString(subtleStyle.Render("  (from cache)"))
		}
		b.WriteString("\n\n")
		b.WriteString(describe(o))
	}

	b.WriteString(renderNotice(m))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(" esc back  ↑↓ prev/next  a approve  r reject  f forget  i ignore  q quit"))
	b.WriteString("\n")
	return b.String()
}

// describe explains an outcome the way the extension popup does.
func describe(o trust.Outcome) string {
	var b strings.Builder
	switch o.Status {
	case trust.StatusVerified:
		a := o.Author
		if a == nil {
			break
		}
		field(&b, "Author", a.Name)
		field(&b, "Email", a.Email)
		field(&b, "Comment", a.Comment)
		field(&b, "Key ID", keyIDStyle.Render(string(a.KeyID)))
		field(&b, "Fingerprint", a.Fingerprint)
	case trust.StatusFailure:
		b.WriteString(" The page declares a signature that does not verify.\n")
		field(&b, "Error", errorStyle.Render(o.Error))
	case trust.StatusUnverified:
		b.WriteString(" The page is not signed.\n")
	case trust.StatusCacheMiss:
		b.WriteString(" The page could not be checked and was never verified before.\n")
	case trust.StatusUnsupportedCapture:
		b.WriteString(" Response bodies cannot be inspected on this platform.\n")
	}
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, " %s %s\n", subtleStyle.Render(fmt.Sprintf("%-12s", name+":")), value)
}
