package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/martinaparikova/calendar-asistant/internal/model"
)

var htmlTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{
	"dayLabel": DayLabel,
	"join":     strings.Join,
}).Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>{{ .Title }}</title>
    <style>
      body { font-family: -apple-system,BlinkMacSystemFont,Segoe UI,Roboto,Helvetica,Arial,sans-serif; line-height: 1.45; }
      h1 { font-size: 20px; margin: 0 0 12px 0; }
      h2 { font-size: 16px; margin: 18px 0 8px 0; border-bottom: 1px solid #ddd; padding-bottom: 4px; }
      .event { margin: 6px 0 10px 0; }
      .time { font-weight: 600; }
      .title { font-weight: 600; }
      .loc { font-style: italic; color: #333; }
      .cal { color: #555; font-size: 12px; }
      .allday { background: #f4f4f4; border-radius: 4px; padding: 2px 6px; font-size: 12px; margin-left: 6px; }
      .warning { background: #fff4e5; border: 1px solid #f0b35b; border-radius: 4px; padding: 8px 12px; margin: 0 0 14px 0; }
      .footer { margin-top: 18px; font-size: 12px; color: #666; }
    </style>
  </head>
  <body data-ready="true">
    <h1>{{ .Title }}</h1>
    {{ if .Intro }}<p>{{ .Intro }}</p>{{ end }}

    {{ if .Failures }}
    <div class="warning">
      <strong>Some calendars could not be loaded, this summary may be incomplete:</strong>
      <ul>
      {{ range .Failures }}<li>{{ .Source }} ({{ .Kind }}): {{ .Message }}</li>
      {{ end }}</ul>
    </div>
    {{ end }}

    {{ if .Days }}
      {{ range .Days }}
        <h2>{{ dayLabel .Day }}</h2>
        {{ range .Entries }}
          <div class="event">
            <div class="title">{{ .Title }}
              {{ if .AllDay }}<span class="allday">all day</span>{{ end }}
            </div>
            <div class="time">{{ if .AllDay }}—{{ else }}{{ .TimeRange }}{{ end }}</div>
            {{ if .Location }}<div class="loc">{{ .Location }}</div>{{ end }}
            <div class="cal">{{ join .Sources ", " }}</div>
          </div>
        {{ end }}
      {{ end }}
    {{ else if .Failures }}
      <p>No events could be shown for this period from the calendars that loaded.</p>
    {{ else }}
      <p>No events in this period.</p>
    {{ end }}

    <div class="footer">
      Generated automatically. Time zone: {{ .TimeZone }}.
    </div>
  </body>
</html>
`))

type htmlView struct {
	Title    string
	Intro    string
	TimeZone string
	Days     []model.DayBucket
	Failures []model.Failure
}

// HTML renders the email body.
func HTML(s model.Summary, opts Options) (string, error) {
	view := htmlView{
		Title:    title(s, opts),
		Intro:    opts.Intro,
		TimeZone: s.TimeZone,
		Days:     nonEmptyDays(s),
		Failures: s.Failures,
	}
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render: html: %w", err)
	}
	return buf.String(), nil
}
