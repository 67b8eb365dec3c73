// Package pages renders the terminal pages behind the confirm, cancel and
// reschedule links.
package pages

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates/*.html
var files embed.FS

var outcome = template.Must(template.ParseFS(files, "templates/outcome.html"))

type Tone string

const (
	ToneOK    Tone = "ok"
	ToneWarn  Tone = "warn"
	ToneError Tone = "err"
)

type Page struct {
	Title   string
	Heading string
	Message string
	When    string
	Tone    Tone
}

// FormatWhen renders t in loc the way the pages and emails show it.
func FormatWhen(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST")
}

func Render(w http.ResponseWriter, status int, p Page) {
	var buf bytes.Buffer
	if err := outcome.Execute(&buf, p); err != nil {
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
