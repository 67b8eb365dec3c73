package reminders

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/brokerdesk/crm/services/scheduling-service/internal/model"
)

var bodies = template.Must(template.New("").Funcs(template.FuncMap{
	"when": when,
}).Parse(`
{{define "booking_confirmation"}}Hi {{.name}},

Your showing "{{.title}}" is booked for {{when .start_time .time_zone}}.
{{with .location}}Location: {{.}}
{{end}}
{{with .confirm_url}}Confirm: {{.}}
{{end}}{{with .reschedule_url}}Need another time? {{.}}
{{end}}{{with .cancel_url}}Cancel: {{.}}
{{end}}{{end}}
{{define "appointment_reminder"}}Hi {{.name}}, this is a reminder that "{{.title}}" starts {{when .start_time .time_zone}}.{{with .location}} Location: {{.}}.{{end}}{{end}}
{{define "reschedule_request"}}{{with .email}}{{.}}{{else}}A booker{{end}} asked to reschedule "{{.title}}" currently set for {{when .start_time .time_zone}}. Please reach out to arrange a new time.{{end}}
`))

var subjects = map[model.NotificationKind]string{
	model.KindBookingConfirmation: "Your showing is booked",
	model.KindReminder:            "Reminder: upcoming showing",
	model.KindRescheduleRequest:   "Reschedule requested",
}

// Render returns the subject and plain-text body of item.
func Render(item model.QueueItem) (string, string, error) {
	subject, ok := subjects[item.Kind]
	if !ok {
		return "", "", fmt.Errorf("no template for notification kind %q", item.Kind)
	}
	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, string(item.Kind), item.Payload); err != nil {
		return "", "", fmt.Errorf("render %s: %w", item.Kind, err)
	}
	return subject, strings.TrimSpace(buf.String()), nil
}

func when(startRFC3339, tz any) string {
	s, _ := startRFC3339.(string)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	if name, _ := tz.(string); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			t = t.In(loc)
		}
	}
	return t.Format("Mon Jan 2 at 3:04 PM MST")
}
