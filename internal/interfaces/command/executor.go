package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/docflow/internal/application/workflow"
	"github.com/garyjia/docflow/internal/directory"
	"github.com/garyjia/docflow/internal/domain/entity"
	domainwf "github.com/garyjia/docflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Executor runs chat commands against the engine on behalf of a user
type Executor struct {
	engine workflow.Engine
	logger Logger
}

// NewExecutor creates a command executor
func NewExecutor(engine workflow.Engine, logger Logger) *Executor {
	return &Executor{engine: engine, logger: logger}
}

// Handle parses text, runs it as actor and always returns a reply
func (x *Executor) Handle(ctx context.Context, actor directory.User, text string) string {
	cmd, err := Parse(text)
	if err != nil {
		return err.Error() + "\n" + Usage
	}
	return x.Run(ctx, actor, cmd)
}

// Run executes cmd and renders the outcome, success or failure, as a reply
func (x *Executor) Run(ctx context.Context, actor directory.User, cmd Command) string {
	reply, err := x.Execute(ctx, actor, cmd)
	if err != nil {
		x.logger.Info("Chat command refused",
			"actor", actor.Name,
			"action", cmd.Action,
			"type", cmd.Type,
			"id", cmd.ID,
			"error", err,
		)
		return ErrorReply(err)
	}
	return reply
}

// Execute runs cmd as actor
func (x *Executor) Execute(ctx context.Context, actor directory.User, cmd Command) (string, error) {
	switch cmd.Action {
	case ActionHelp:
		return Usage, nil

	case ActionApprove:
		docType := cmd.Type
		if docType == "" {
			resolved, err := x.engine.Resolve(ctx, cmd.ID)
			if err != nil {
				return "", err
			}
			docType = resolved
		}
		if cmd.State == "" {
			return x.confirm(ctx, docType, cmd)
		}
		doc, err := x.engine.Approve(ctx, workflow.ApproveRequest{
			Type:      docType,
			ID:        cmd.ID,
			ActorRole: string(actor.Role),
			ActorName: actor.Name,
			Payload:   cmd.Payload,
			FromState: cmd.State,
		})
		if err != nil {
			return "", err
		}
		if stamp, ok := doc.LastStamp(); !ok || stamp.State != cmd.State || stamp.ActorName != actor.Name {
			return stale(doc, cmd.State), nil
		}
		return fmt.Sprintf("%s is now %s", title(doc), doc.Status), nil

	case ActionReject:
		if cmd.State == "" {
			return x.confirm(ctx, cmd.Type, cmd)
		}
		doc, err := x.engine.Reject(ctx, workflow.RejectRequest{
			Type:      cmd.Type,
			ID:        cmd.ID,
			ActorRole: string(actor.Role),
			ActorName: actor.Name,
			Reason:    cmd.Reason,
			FromState: cmd.State,
		})
		if err != nil {
			return "", err
		}
		if doc.Status != domainwf.StateRejected {
			return stale(doc, cmd.State), nil
		}
		return fmt.Sprintf("%s is %s", title(doc), doc.Status), nil

	case ActionBatch:
		result, err := x.engine.SubmitBatch(ctx, workflow.BatchRequest{
			Type:      cmd.Type,
			Date:      cmd.Date,
			Level:     cmd.Level,
			ActorRole: string(actor.Role),
			ActorName: actor.Name,
		})
		if err != nil {
			return "", err
		}
		if len(result.Documents) == 0 {
			return fmt.Sprintf("%s %s has nothing waiting at the %s level, not signed off",
				label(result.Type), result.Date, result.Level), nil
		}
		return fmt.Sprintf("%s %s signed off at the %s level: %d document(s) moved",
			label(result.Type), result.Date, result.Level, len(result.Documents)), nil

	case ActionShow:
		doc, err := x.engine.Get(ctx, cmd.Type, cmd.ID)
		if err != nil {
			return "", err
		}
		return describe(doc), nil
	}
	return "", domainwf.NewError(domainwf.KindValidation, "command", "unsupported action %q", cmd.Action)
}

// confirm answers an approve or reject that names no status with the
// current one and the exact command to send
func (x *Executor) confirm(ctx context.Context, docType domainwf.DocumentType, cmd Command) (string, error) {
	doc, err := x.engine.Get(ctx, docType, cmd.ID)
	if err != nil {
		return "", err
	}
	def, err := x.engine.Registry().Definition(doc.Type)
	if err != nil {
		return "", err
	}
	if def.IsTerminal(doc.Status) {
		return fmt.Sprintf("%s is already %s, nothing to do", title(doc), doc.Status), nil
	}

	line := fmt.Sprintf("%s %s %s %s", cmd.Action, doc.Type, doc.ID, doc.Status)
	if cmd.Action == ActionReject {
		line += " " + cmd.Reason
	}
	for _, kv := range sortedPayload(cmd.Payload) {
		line += " " + kv
	}
	return fmt.Sprintf("%s is %s. To %s it send:\n%s", title(doc), doc.Status, cmd.Action, line), nil
}

// stale reports a request issued against a status the document has left
func stale(doc *entity.Document, from domainwf.State) string {
	if doc.Status == from {
		return fmt.Sprintf("%s is %s, nothing changed", title(doc), doc.Status)
	}
	return fmt.Sprintf("%s already moved from %s to %s, nothing changed", title(doc), from, doc.Status)
}

func sortedPayload(payload map[string]interface{}) []string {
	out := make([]string, 0, len(payload))
	for k, v := range payload {
		out = append(out, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(out)
	return out
}

// ErrorReply renders an engine error for a chat user
func ErrorReply(err error) string {
	switch domainwf.KindOf(err) {
	case domainwf.KindNotFound:
		return "not found: " + err.Error()
	case domainwf.KindAuthorization:
		return "not allowed: " + err.Error()
	case domainwf.KindValidation:
		return "invalid request: " + err.Error()
	case domainwf.KindConflict, domainwf.KindStorage:
		return "temporarily unavailable, please retry: " + err.Error()
	}
	return "internal error: " + err.Error()
}

func describe(doc *entity.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nstatus: %s\ncreated by: %s", title(doc), doc.Status, doc.CreatedBy)
	if doc.Day != "" {
		fmt.Fprintf(&b, "\nday: %s", doc.Day)
	}
	for _, s := range doc.ApprovalStamps {
		fmt.Fprintf(&b, "\n- %s by %s (%s) at %s", s.State, s.ActorName, s.Role, s.Timestamp.Format("2006-01-02 15:04"))
	}
	if doc.Rejection != nil {
		fmt.Fprintf(&b, "\nrejected by %s: %s", doc.Rejection.ActorName, doc.Rejection.Reason)
	}
	return b.String()
}

func title(doc *entity.Document) string {
	return fmt.Sprintf("%s %s", label(doc.Type), doc.ID)
}

func label(t domainwf.DocumentType) string {
	return strings.ReplaceAll(string(t), "_", " ")
}
