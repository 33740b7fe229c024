package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/docflow/internal/directory"
	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/event"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

// Composer turns engine events into notifications. It performs no I/O.
type Composer struct {
	registry  *workflow.Registry
	directory *directory.Directory
	now       func() time.Time
}

// NewComposer creates a composer addressing users of dir
func NewComposer(registry *workflow.Registry, dir *directory.Directory) *Composer {
	return &Composer{
		registry:  registry,
		directory: dir,
		now:       time.Now,
	}
}

// Compose returns the notifications for evt, one per recipient channel.
// The acting user is never notified of their own action.
func (c *Composer) Compose(evt *event.Event) []*entity.Notification {
	if evt == nil {
		return nil
	}
	def, err := c.registry.Definition(evt.DocumentType)
	if err != nil {
		return nil
	}

	var (
		recipients []directory.User
		message    string
	)

	switch evt.Type {
	case event.TypeDocumentCreated:
		if evt.Document == nil {
			return nil
		}
		recipients = c.waitingOn(def, evt.Document.Status)
		message = fmt.Sprintf("%s submitted by %s, waiting for your approval (%s)",
			subject(evt.Document), actorOrUnknown(evt.ActorName), evt.Document.Status)

	case event.TypeDocumentApproved:
		if evt.Document == nil {
			return nil
		}
		doc := evt.Document
		if doc.Status == def.Final {
			recipients = c.named(doc.CreatedBy)
			message = fmt.Sprintf("%s is fully approved (%s), last sign-off by %s",
				subject(doc), doc.Status, actorOrUnknown(evt.ActorName))
			break
		}
		recipients = c.waitingOn(def, doc.Status)
		message = fmt.Sprintf("%s approved by %s (%s), %s",
			subject(doc), actorOrUnknown(evt.ActorName), evt.ActorRole, c.nextAction(def, doc))

	case event.TypeDocumentRejected:
		if evt.Document == nil {
			return nil
		}
		doc := evt.Document
		names := []string{doc.CreatedBy}
		for _, s := range doc.ApprovalStamps {
			names = append(names, s.ActorName)
		}
		recipients = c.named(names...)
		message = fmt.Sprintf("%s rejected by %s: %s",
			subject(doc), actorOrUnknown(evt.ActorName), evt.GetPayloadString(event.KeyReason))

	case event.TypeDocumentEdited:
		if evt.Document == nil || evt.FromState == evt.ToState {
			return nil
		}
		recipients = c.waitingOn(def, evt.ToState)
		message = fmt.Sprintf("%s edited by %s and returned to %s for approval",
			subject(evt.Document), actorOrUnknown(evt.ActorName), evt.ToState)

	case event.TypeDayBatchApproved:
		day := evt.GetPayloadString(event.KeyDay)
		level := evt.GetPayloadString(event.KeyLevel)
		if evt.ToState == def.Final {
			recipients = c.directory.ByRole(workflow.RoleAdmin)
			message = fmt.Sprintf("%s %s: %d document(s) archived by %s at the %s level",
				label(evt.DocumentType), day, len(evt.Documents), actorOrUnknown(evt.ActorName), level)
			break
		}
		if len(evt.Documents) == 0 {
			return nil
		}
		recipients = c.waitingOn(def, evt.ToState)
		message = fmt.Sprintf("%s %s: %d document(s) signed off by %s at the %s level, now %s",
			label(evt.DocumentType), day, len(evt.Documents), actorOrUnknown(evt.ActorName), level, evt.ToState)

	case event.TypeDayReopened:
		day := evt.GetPayloadString(event.KeyDay)
		roles := append([]workflow.Role{}, stepRoles(def, def.Initial())...)
		for _, s := range def.Steps {
			if s.BatchLevel != "" {
				roles = append(roles, s.RequiredRoles...)
			}
		}
		recipients = c.directory.ByRole(roles...)
		edited := "a document"
		if evt.Document != nil {
			edited = subject(evt.Document)
		}
		message = fmt.Sprintf("Day %s reopened after an edit of %s by %s: %d document(s) returned to %s",
			day, edited, actorOrUnknown(evt.ActorName), len(evt.Documents), def.Initial())

	default:
		return nil
	}

	ref := approvalRef(def, evt)
	if ref != nil {
		message += fmt.Sprintf("\nreply: approve %s %s %s", ref.Type, ref.ID, ref.Status)
	}
	out := c.address(excluding(recipients, evt.ActorName), message)
	if ref != nil {
		for _, n := range out {
			n.DocumentType = ref.Type
			n.DocumentID = ref.ID
			n.DocumentState = ref.Status
		}
	}
	return out
}

// approvalRef returns the document the recipients may approve individually
func approvalRef(def *workflow.Definition, evt *event.Event) *entity.Document {
	switch evt.Type {
	case event.TypeDocumentCreated, event.TypeDocumentApproved, event.TypeDocumentEdited:
	default:
		return nil
	}
	doc := evt.Document
	if doc == nil || def.IsTerminal(doc.Status) {
		return nil
	}
	if step, ok := def.Step(doc.Status); !ok || step.BatchOnly {
		return nil
	}
	return doc
}

// Reminders builds one digest per user listing the documents waiting on
// their role. Terminal documents are skipped.
func (c *Composer) Reminders(docs []*entity.Document) []*entity.Notification {
	pending := make(map[string][]string)
	users := make(map[string]directory.User)

	for _, doc := range docs {
		def, err := c.registry.Definition(doc.Type)
		if err != nil || def.IsTerminal(doc.Status) {
			continue
		}
		line := fmt.Sprintf("- %s (%s)", subject(doc), doc.Status)
		if step, ok := def.Step(doc.Status); ok && step.BatchOnly {
			line = fmt.Sprintf("- %s (%s, %s day batch of %s)", subject(doc), doc.Status, step.BatchLevel, doc.Day)
		}
		for _, u := range c.waitingOn(def, doc.Status) {
			users[u.Name] = u
			pending[u.Name] = append(pending[u.Name], line)
		}
	}

	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*entity.Notification
	for _, name := range names {
		lines := pending[name]
		message := fmt.Sprintf("%d document(s) waiting for you:\n%s", len(lines), strings.Join(lines, "\n"))
		out = append(out, c.address([]directory.User{users[name]}, message)...)
	}
	return out
}

func (c *Composer) waitingOn(def *workflow.Definition, state workflow.State) []directory.User {
	return c.directory.ByRole(stepRoles(def, state)...)
}

func (c *Composer) named(names ...string) []directory.User {
	seen := make(map[string]bool)
	var out []directory.User
	for _, n := range names {
		u, ok := c.directory.ByName(n)
		if !ok || seen[u.Name] {
			continue
		}
		seen[u.Name] = true
		out = append(out, u)
	}
	return out
}

func (c *Composer) nextAction(def *workflow.Definition, doc *entity.Document) string {
	step, ok := def.Step(doc.Status)
	if ok && step.BatchOnly {
		return fmt.Sprintf("waiting for the %s day batch of %s", step.BatchLevel, doc.Day)
	}
	return fmt.Sprintf("waiting for your approval (%s)", doc.Status)
}

func (c *Composer) address(users []directory.User, message string) []*entity.Notification {
	now := c.now()
	var out []*entity.Notification
	for _, u := range users {
		for _, t := range u.Targets() {
			out = append(out, &entity.Notification{
				ID:        uuid.NewString(),
				Channel:   t.Channel,
				Target:    t.Address,
				Message:   message,
				CreatedAt: now,
			})
		}
	}
	return out
}

func stepRoles(def *workflow.Definition, state workflow.State) []workflow.Role {
	step, ok := def.Step(state)
	if !ok {
		return nil
	}
	return step.RequiredRoles
}

func excluding(users []directory.User, actor string) []directory.User {
	if actor == "" {
		return users
	}
	out := users[:0:0]
	for _, u := range users {
		if !strings.EqualFold(u.Name, actor) {
			out = append(out, u)
		}
	}
	return out
}

func subject(doc *entity.Document) string {
	return fmt.Sprintf("[%s %s]", label(doc.Type), doc.ID)
}

func label(t workflow.DocumentType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func actorOrUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}
