package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/docflow/internal/domain/workflow"
)

// Action is a chat command verb
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionBatch   Action = "batch"
	ActionShow    Action = "show"
	ActionHelp    Action = "help"
)

// ErrEmpty is returned for blank input
var ErrEmpty = errors.New("empty command")

// Usage is the reply to help and to unparseable input
const Usage = `commands:
approve <type> <id> <status> [key=value ...]
approve <id> <status>
reject <type> <id> <status> <reason>
batch <type> <YYYY-MM-DD> <supervisor|factory|ceo>
show <type> <id>`

// Command is a parsed chat instruction. State is the document status the
// sender approves or rejects; without it the executor asks for confirmation.
type Command struct {
	Action  Action
	Type    workflow.DocumentType
	ID      string
	State   workflow.State
	Payload map[string]interface{}
	Reason  string
	Date    string
	Level   workflow.BatchLevel
}

// Parse reads a chat message. A leading slash and a bot mention suffix
// ("/approve@docbot") are accepted.
func Parse(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, ErrEmpty
	}

	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i]
	}
	args := fields[1:]

	switch Action(verb) {
	case ActionHelp, "start":
		return Command{Action: ActionHelp}, nil

	case ActionApprove:
		return parseApprove(args)

	case ActionReject:
		if len(args) < 3 {
			return Command{}, fmt.Errorf("usage: reject <type> <id> <status> <reason>")
		}
		cmd := Command{Action: ActionReject, Type: workflow.ParseDocumentType(args[0]), ID: args[1]}
		reason := args[2:]
		if state, ok := parseState(args[2]); ok {
			cmd.State = state
			reason = args[3:]
		}
		if len(reason) == 0 {
			return Command{}, fmt.Errorf("usage: reject <type> <id> <status> <reason>")
		}
		cmd.Reason = strings.Join(reason, " ")
		return cmd, nil

	case ActionBatch:
		if len(args) != 3 {
			return Command{}, fmt.Errorf("usage: batch <type> <YYYY-MM-DD> <supervisor|factory|ceo>")
		}
		level, ok := workflow.ParseBatchLevel(args[2])
		if !ok {
			return Command{}, fmt.Errorf("unknown batch level %q", args[2])
		}
		return Command{
			Action: ActionBatch,
			Type:   workflow.ParseDocumentType(args[0]),
			Date:   args[1],
			Level:  level,
		}, nil

	case ActionShow:
		if len(args) != 2 {
			return Command{}, fmt.Errorf("usage: show <type> <id>")
		}
		return Command{Action: ActionShow, Type: workflow.ParseDocumentType(args[0]), ID: args[1]}, nil
	}

	return Command{}, fmt.Errorf("unknown command %q", fields[0])
}

// approve [type] <id> [status] [k=v...]
func parseApprove(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("usage: approve <type> <id> <status> [key=value ...]")
	}

	cmd := Command{Action: ActionApprove}
	rest := args
	if docType := workflow.ParseDocumentType(args[0]); len(args) >= 2 && docType.IsKnown() {
		cmd.Type = docType
		cmd.ID = args[1]
		rest = args[2:]
	} else {
		cmd.ID = args[0]
		rest = args[1:]
	}
	if len(rest) > 0 {
		if state, ok := parseState(rest[0]); ok {
			cmd.State = state
			rest = rest[1:]
		}
	}

	for _, kv := range rest {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return Command{}, fmt.Errorf("expected key=value, got %q", kv)
		}
		if cmd.Payload == nil {
			cmd.Payload = make(map[string]interface{})
		}
		cmd.Payload[key] = value
	}
	return cmd, nil
}

// ParseCallback reads inline button data: approve:<type>:<id>:<status> or
// reject:<type>:<id>:<status>:<reason>. The status is the one shown when
// the button was sent, so a repeated tap is a no-op.
func ParseCallback(data string) (Command, error) {
	parts := strings.SplitN(data, ":", 5)
	if len(parts) < 4 || parts[1] == "" || parts[2] == "" {
		return Command{}, fmt.Errorf("malformed callback %q", data)
	}
	state, ok := parseState(parts[3])
	if !ok {
		return Command{}, fmt.Errorf("callback %q has no valid status", data)
	}

	cmd := Command{Type: workflow.ParseDocumentType(parts[1]), ID: parts[2], State: state}
	switch Action(parts[0]) {
	case ActionApprove:
		if len(parts) != 4 {
			return Command{}, fmt.Errorf("malformed callback %q", data)
		}
		cmd.Action = ActionApprove
	case ActionReject:
		if len(parts) != 5 || strings.TrimSpace(parts[4]) == "" {
			return Command{}, fmt.Errorf("reject callback %q has no reason", data)
		}
		cmd.Action = ActionReject
		cmd.Reason = parts[4]
	default:
		return Command{}, fmt.Errorf("unknown callback action %q", parts[0])
	}
	return cmd, nil
}

func parseState(token string) (workflow.State, bool) {
	state := workflow.State(strings.ToLower(token))
	return state, state.IsValid()
}
