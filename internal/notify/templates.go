package notify

import (
	"fmt"
	"html"
	"time"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

const createdAtLayout = "2006-01-02 15:04 MST"

// AssignmentMessage renders the email sent to a newly assigned technician.
func AssignmentMessage(to string, s domain.AssignmentSummary) Message {
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	created := createdAt.UTC().Format(createdAtLayout)
	priority := string(s.Priority)

	subject := fmt.Sprintf("New breakdown assigned: %s priority", priority)

	plainBody := fmt.Sprintf(`Hello %s,

A breakdown has been assigned to you.

Task: %s
Priority: %s
Reported by: %s <%s>
Reported at: %s
Ticket ID: %s
`, s.TechnicianName, s.TaskDescription, priority, s.ReporterName, s.ReporterEmail, created, s.TicketID)

	e := html.EscapeString
	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>New breakdown assigned</h2>
			<p>Hello %s,</p>
			<p>A breakdown has been assigned to you.</p>
			<table>
				<tr><td>Task</td><td>%s</td></tr>
				<tr><td>Priority</td><td>%s</td></tr>
				<tr><td>Reported by</td><td>%s &lt;%s&gt;</td></tr>
				<tr><td>Reported at</td><td>%s</td></tr>
				<tr><td>Ticket ID</td><td>%s</td></tr>
			</table>
		</body>
		</html>
	`, e(s.TechnicianName), e(s.TaskDescription), e(priority), e(s.ReporterName), e(s.ReporterEmail), e(created), e(s.TicketID))

	return Message{To: to, Subject: subject, PlainBody: plainBody, HTMLBody: htmlBody}
}
