package workflow

import (
	"fmt"
	"strings"

	"github.com/cbriice/claude-swarm-sub001/internal/msgbus"
)

// Routing is a message the coordinator should send as a consequence of a
// received message or a transition.
type Routing struct {
	To       string
	Type     msgbus.MessageType
	Priority msgbus.Priority
	Content  msgbus.Content
	Opts     msgbus.SendOpts
}

// RouteMessage computes zero or more routing decisions for an incoming
// worker message. It drives the instance's state machine for result and
// review messages; informational types produce no routing.
//
// A review carrying NEEDS_REVISION yields a new task addressed back to the
// producing step's role with the review's thread id preserved, so the
// revision stays causally linked to the original submission.
func RouteMessage(inst *Instance, msg *msgbus.Message) ([]Routing, error) {
	step := inst.CurrentStep()
	if step == nil {
		return nil, nil
	}

	switch msg.Type {
	case msgbus.TypeResult:
		if msg.From != step.Role {
			return nil, nil
		}
		if err := inst.CompleteStep(msg.Content.Body, "", false); err != nil {
			return nil, err
		}
		res := inst.Transition("")
		return routingsForTransition(inst, res, msg.ThreadID), nil

	case msgbus.TypeReview, msgbus.TypeFeedback:
		if msg.From != step.Role {
			return nil, nil
		}
		verdict, ok := msg.ReviewVerdict()
		if !ok {
			return nil, nil
		}
		if err := inst.CompleteStep(msg.Content.Body, verdict, false); err != nil {
			return nil, err
		}
		res := inst.Transition(verdict)
		if res.Kind == TransitionEscalate {
			return nil, fmt.Errorf("step %s rejected by %s", step.ID, msg.From)
		}
		return routingsForTransition(inst, res, msg.ThreadID), nil
	}

	return nil, nil
}

func routingsForTransition(inst *Instance, res TransitionResult, threadID string) []Routing {
	switch res.Kind {
	case TransitionAdvance:
		return []Routing{TaskFor(inst, res.NextStep, threadID, 0)}
	case TransitionRevise:
		r := TaskFor(inst, res.NextStep, threadID, res.RevisionNo)
		r.Priority = msgbus.PriorityHigh
		return []Routing{r}
	}
	return nil
}

// TaskFor builds the task routing for a step, folding the step's inputs
// into the message body.
func TaskFor(inst *Instance, step *Step, threadID string, revision int) Routing {
	var sb strings.Builder
	subject := fmt.Sprintf("task: %s", step.ID)
	if revision > 0 {
		subject = fmt.Sprintf("revise: %s (revision %d)", step.ID, revision)
		sb.WriteString("The previous submission needs revision. Address the review feedback.\n\n")
	}
	for _, in := range step.Inputs {
		if out, ok := inst.Output(in); ok {
			fmt.Fprintf(&sb, "## %s\n\n%s\n\n", in, out)
		}
	}

	return Routing{
		To:       step.Role,
		Type:     msgbus.TypeTask,
		Priority: msgbus.PriorityNormal,
		Content: msgbus.Content{
			Subject: subject,
			Body:    sb.String(),
			Task:    &msgbus.TaskPayload{Step: step.ID, Revision: revision},
		},
		Opts: msgbus.SendOpts{ThreadID: threadID, RequiresResponse: true},
	}
}
