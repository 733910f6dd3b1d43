package review

import (
	"bytes"
	"html/template"

	"github.com/rotisserie/eris"

	"github.com/civicdata/district-offices/internal/model"
)

// ReviewPage is the template input for one review document.
type ReviewPage struct {
	Extraction   model.Extraction
	Unit         model.Unit
	Candidates   []model.CandidateOffice
	CallbackBase string
}

var reviewTmpl = template.Must(template.New("review").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Review: {{.Unit.DisplayName}} ({{.Unit.UnitID}})</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 2rem; max-width: 60rem; }
  table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
  th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
  th { background: #f3f3f3; }
  .actions a { display: inline-block; padding: 0.6rem 1.6rem; margin-right: 1rem;
               text-decoration: none; border-radius: 4px; color: #fff; font-weight: 600; }
  .accept { background: #2e7d32; }
  .reject { background: #c62828; }
  .meta { color: #555; }
</style>
</head>
<body>
<h1>{{.Unit.DisplayName}} <span class="meta">({{.Unit.UnitID}})</span></h1>
<p class="meta">
  Extraction #{{.Extraction.ID}} &middot;
  Source: <a href="{{.Extraction.SourceURL}}">{{.Extraction.SourceURL}}</a>
</p>

<h2>Extracted offices ({{len .Candidates}})</h2>
<table>
<tr><th>Office</th><th>Building</th><th>Address</th><th>Suite</th><th>City</th><th>State</th><th>Zip</th><th>Phone</th><th>Fax</th><th>Hours</th></tr>
{{range .Candidates}}
<tr>
  <td>{{.OfficeType}}</td><td>{{.Building}}</td><td>{{.Address}}</td><td>{{.Suite}}</td>
  <td>{{.City}}</td><td>{{.State}}</td><td>{{.Zip}}</td><td>{{.Phone}}</td><td>{{.Fax}}</td><td>{{.Hours}}</td>
</tr>
{{end}}
</table>

<div class="actions">
  <a class="accept" href="{{.CallbackBase}}/validate?extraction_id={{.Extraction.ID}}&amp;decision=accept">Accept</a>
  <a class="reject" href="{{.CallbackBase}}/validate?extraction_id={{.Extraction.ID}}&amp;decision=reject">Reject</a>
</div>
</body>
</html>
`))

// RenderReview produces the HTML document a reviewer sees for one
// extraction.
func RenderReview(page ReviewPage) ([]byte, error) {
	var buf bytes.Buffer
	if err := reviewTmpl.Execute(&buf, page); err != nil {
		return nil, eris.Wrapf(err, "review: render extraction %d", page.Extraction.ID)
	}
	return buf.Bytes(), nil
}
