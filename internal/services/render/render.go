// Package render turns a report into the mailed HTML page, the CSV
// attachment, a terminal table and the unmapped-key exports.
package render

import (
	"bytes"
	"html/template"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
)

type column struct {
	header string
	value  func(domain.MonthlyDocument) float64
}

var columns = []column{
	{"Jobs Completed", func(d domain.MonthlyDocument) float64 { return d.TotalJobs }},
	{"Core Hours", func(d domain.MonthlyDocument) float64 { return d.CoreHours }},
	{"Files Transferred", func(d domain.MonthlyDocument) float64 { return d.FilesTransferred }},
	{"Unique Users", func(d domain.MonthlyDocument) float64 { return float64(d.Users) }},
	{"Unique Projects", func(d domain.MonthlyDocument) float64 { return float64(d.Projects) }},
	{"Unique Institutions Benefiting", func(d domain.MonthlyDocument) float64 { return float64(d.InstitutionsBenefit) }},
	{"Unique Institutions Contributing", func(d domain.MonthlyDocument) float64 { return float64(d.InstitutionsContrib) }},
	{"Institutions Benefiting and Contributing", func(d domain.MonthlyDocument) float64 { return float64(d.InstitutionsBoth) }},
	{"Unknown Project Jobs", func(d domain.MonthlyDocument) float64 { return float64(d.UndefinedProjectJobs) }},
	{"Unknown Project Institution Jobs", func(d domain.MonthlyDocument) float64 { return float64(d.UnmappedProjectJobs) }},
}

// Headers returns the table header row.
func Headers() []string {
	out := []string{"Month Starting"}
	for _, c := range columns {
		out = append(out, c.header)
	}
	return out
}

// writer builds the report table with the total row first.
func writer(r domain.Report) table.Writer {
	tw := table.NewWriter()
	tw.Style().Format.Header = text.FormatDefault
	header := table.Row{}
	for _, h := range Headers() {
		header = append(header, h)
	}
	tw.AppendHeader(header)

	configs := make([]table.ColumnConfig, 0, len(columns))
	for i := range columns {
		configs = append(configs, table.ColumnConfig{Number: i + 2, Align: text.AlignRight})
	}
	tw.SetColumnConfigs(configs)

	for i, doc := range r.Rows() {
		row := table.Row{doc.Date}
		for _, c := range columns {
			row = append(row, humanize.Comma(int64(c.value(doc))))
		}
		tw.AppendRow(row)
		if i == 0 && len(r.Months) > 0 {
			tw.AppendSeparator()
		}
	}
	return tw
}

// Text renders the table for a terminal.
func Text(r domain.Report) string {
	tw := writer(r)
	tw.SetStyle(table.StyleLight)
	return tw.Render()
}

// CSV renders the table as CSV.
func CSV(r domain.Report) []byte {
	return []byte(writer(r).RenderCSV() + "\n")
}

var page = template.Must(template.New("report").Parse(`<html><head><style>
table.ospool-report { border-collapse: collapse; }
table.ospool-report th, table.ospool-report td { border: 1px solid black; padding: 2px 6px; }
</style></head><body>
{{.Table}}
<h2>Benefitting institutions over the last {{.Span}}</h2><ol>
{{- range .Benefit}}<li>{{.}}</li>{{end -}}
</ol>
<h2>Contributing institutions over the last {{.Span}}</h2><ol>
{{- range .Contrib}}<li>{{.}}</li>{{end -}}
</ol>
</body></html>
`))

// HTML renders the mail body: the table followed by the sorted lists of
// benefiting and contributing institutions.
func HTML(r domain.Report) (string, error) {
	tw := writer(r)
	tw.Style().HTML = table.HTMLOptions{
		CSSClass:    "ospool-report",
		EmptyColumn: "&nbsp;",
		EscapeText:  true,
		Newline:     "<br/>",
	}

	var buf bytes.Buffer
	err := page.Execute(&buf, struct {
		Table   template.HTML
		Span    string
		Benefit []string
		Contrib []string
	}{
		// RenderHTML escapes cell text.
		Table:   template.HTML(tw.RenderHTML()), //nolint:gosec
		Span:    Span(r.Days),
		Benefit: r.Institutions[domain.CategoryInstitutionsBenefit],
		Contrib: r.Institutions[domain.CategoryInstitutionsContrib],
	})
	if err != nil {
		return "", xerrors.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// Span names the covered period, "year" for the default 365 days.
func Span(days int) string {
	switch {
	case days == 365:
		return "year"
	case days%365 == 0:
		return humanize.Comma(int64(days/365)) + " years"
	default:
		return humanize.Comma(int64(days)) + " days"
	}
}

// Label is the short period name used in subjects and file names.
func Label(days int) string {
	if days == 365 {
		return "1Year"
	}
	return strconv.Itoa(days) + "Day"
}

// Subject is the mail subject for a report generated at t.
func Subject(t time.Time, days int) string {
	label := "1-Year"
	if days != 365 {
		label = strconv.Itoa(days) + "-Day"
	}
	return t.Format(domain.DateLayout) + " OSPool " + label + " Summary"
}

// Unmapped renders one export line per record, "<YYYY-MM-DD> <raw key>", in
// the order given. Records without a sighting print the epoch date.
func Unmapped(recs []domain.UnmappedRecord) []byte {
	var buf bytes.Buffer
	for _, rec := range recs {
		seen := rec.LastSeen
		if seen.IsZero() {
			seen = time.Unix(0, 0)
		}
		buf.WriteString(seen.UTC().Format(domain.DateLayout))
		buf.WriteByte(' ')
		buf.WriteString(rec.RawKey)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
