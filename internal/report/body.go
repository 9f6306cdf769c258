package report

import (
	"strings"

	"github.com/infosec-automation/compliance-mailer/internal/config"
)

// BuildBody assembles the HTML email body around the rendered table. The
// configured text pieces are operator-authored HTML and are written as is.
// Empty pieces are left out.
func BuildBody(rc config.ReportConfig, tableHTML string) string {
	var b strings.Builder

	paragraph(&b, rc.Greeting)
	paragraph(&b, rc.Intro)

	if len(rc.Findings) > 0 {
		b.WriteString("<ul>\n")
		for _, f := range rc.Findings {
			b.WriteString("<li>")
			b.WriteString(f)
			b.WriteString("</li>\n")
		}
		b.WriteString("</ul>\n")
	}

	paragraph(&b, rc.TableLead)
	b.WriteString(tableHTML)
	b.WriteString("\n")
	paragraph(&b, rc.Action)

	if line := contactLine(rc.Contacts); line != "" {
		paragraph(&b, line)
	}

	switch {
	case rc.SignOff != "" && rc.SignOffBy != "":
		paragraph(&b, rc.SignOff+"<br>"+rc.SignOffBy)
	case rc.SignOff != "":
		paragraph(&b, rc.SignOff)
	case rc.SignOffBy != "":
		paragraph(&b, rc.SignOffBy)
	}

	return b.String()
}

func paragraph(b *strings.Builder, text string) {
	if text == "" {
		return
	}
	b.WriteString("<p>")
	b.WriteString(text)
	b.WriteString("</p>\n")
}

// contactLine names the people to reach out to: "@A", "@A or @B",
// "@A, @B or @C".
func contactLine(contacts []string) string {
	names := make([]string, 0, len(contacts))
	for _, c := range contacts {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.HasPrefix(c, "@") {
			c = "@" + c
		}
		names = append(names, c)
	}

	var who string
	switch len(names) {
	case 0:
		return ""
	case 1:
		who = names[0]
	default:
		who = strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
	}
	return "Please feel free to connect " + who + " in case of any queries."
}
