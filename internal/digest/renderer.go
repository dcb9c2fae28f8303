package digest

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/PuerkitoBio/goquery"

	"coursewire/internal/domain"
)

// Renderer turns a message plus a recipient-group key into mail
// content. It must be a pure function of its arguments: the engine
// renders once per group and reuses the result for every member.
type Renderer interface {
	Render(msg *domain.Message, key domain.GroupKey) (subject string, text string, html string, err error)
}

var subjectPrefixes = map[string]string{
	"en": "News digest",
	"fr": "Bulletin d'informations",
	"de": "Nachrichtenübersicht",
	"es": "Resumen de noticias",
}

const textTemplateSrc = `{{.Title}}
{{if .IsEvent}}
When: {{.When}}{{if .Location}}
Where: {{.Location}}{{end}}
{{end}}
{{.Body}}

Published: {{.Published}}
`

const htmlTemplateSrc = `<div class="digest-item">
<h2>{{.Title}}</h2>
{{if .IsEvent}}<p><strong>When:</strong> {{.When}}{{if .Location}}<br><strong>Where:</strong> {{.Location}}{{end}}</p>{{end}}
<div>{{.Body}}</div>
<p class="digest-meta">Published: {{.Published}}</p>
</div>
`

type renderData struct {
	Title     string
	Body      any
	IsEvent   bool
	When      string
	Location  string
	Published string
}

// TemplateRenderer is the default renderer. Deployments with their own
// theming replace it behind the Renderer interface.
type TemplateRenderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

func NewTemplateRenderer() (*TemplateRenderer, error) {
	text, err := texttemplate.New("digest").Parse(textTemplateSrc)
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}

	html, err := htmltemplate.New("digest").Parse(htmlTemplateSrc)
	if err != nil {
		return nil, fmt.Errorf("parse HTML template: %w", err)
	}

	return &TemplateRenderer{text: text, html: html}, nil
}

func (r *TemplateRenderer) Render(
	msg *domain.Message,
	key domain.GroupKey,
) (string, string, string, error) {
	loc, err := time.LoadLocation(key.Timezone)
	if err != nil {
		loc = time.UTC
	}

	prefix, ok := subjectPrefixes[key.Lang]
	if !ok {
		prefix = subjectPrefixes["en"]
	}
	subject := prefix + ": " + msg.Title

	data := renderData{
		Title:     msg.Title,
		IsEvent:   msg.Kind == domain.KindEvent,
		Location:  msg.Location,
		Published: msg.PublishedAt.In(loc).Format("Mon, 2 Jan 2006 15:04"),
	}

	if data.IsEvent && msg.EventStart != nil {
		when := msg.EventStart.In(loc).Format("Mon, 2 Jan 2006 15:04")
		if msg.AllDay {
			when = msg.EventStart.In(loc).Format("Mon, 2 Jan 2006") + " (all day)"
		} else if msg.EventEnd != nil {
			when += " - " + msg.EventEnd.In(loc).Format("Mon, 2 Jan 2006 15:04")
		}

		data.When = when
	}

	plain, err := htmlToText(msg.Body)
	if err != nil {
		return "", "", "", fmt.Errorf("convert body to text: %w", err)
	}

	var textBuf bytes.Buffer
	data.Body = plain
	if err = r.text.Execute(&textBuf, data); err != nil {
		return "", "", "", fmt.Errorf("render text body: %w", err)
	}

	var htmlBuf bytes.Buffer
	// The message body is stored HTML owned by authoring or
	// reconciliation; it is injected as-is, not re-escaped.
	data.Body = htmltemplate.HTML(msg.Body)
	if err = r.html.Execute(&htmlBuf, data); err != nil {
		return "", "", "", fmt.Errorf("render HTML body: %w", err)
	}

	return subject, textBuf.String(), htmlBuf.String(), nil
}

// htmlToText reduces stored HTML to a plaintext rendition for
// plain-format recipients. Entities come back decoded; line breaks and
// block elements turn into newlines.
func htmlToText(s string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", fmt.Errorf("parse body HTML: %w", err)
	}

	doc.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, li, blockquote, h1, h2, h3, h4, h5, h6").Each(
		func(_ int, block *goquery.Selection) {
			block.AppendHtml("\n")
		},
	)

	return strings.TrimSpace(doc.Text()), nil
}
