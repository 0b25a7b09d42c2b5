package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var emailTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var subjects = map[string]string{
	KindAssigned:  "Orden de trabajo #%d asignada",
	KindStarted:   "Orden de trabajo #%d iniciada",
	KindSubmitted: "Orden de trabajo #%d enviada a revisión",
	KindApproved:  "Orden de trabajo #%d aprobada",
	KindRejected:  "Orden de trabajo #%d rechazada",
}

type emailData struct {
	RecipientName string
	Message       string
	OrgSeq        int64
	State         string
	Note          string
}

// renderEmail returns the subject and HTML body for an event.
func renderEmail(ev Event, recipient string) (string, string, error) {
	format, ok := subjects[ev.Kind]
	if !ok {
		format = "Orden de trabajo #%d actualizada"
	}
	data := emailData{
		RecipientName: recipient,
		Message:       ev.Message,
		OrgSeq:        ev.WorkOrder.OrgSeq,
		State:         string(ev.WorkOrder.State),
		Note:          ev.Note,
	}
	var body bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&body, "work_order.html", data); err != nil {
		return "", "", fmt.Errorf("render email: %w", err)
	}
	return fmt.Sprintf(format, ev.WorkOrder.OrgSeq), body.String(), nil
}
