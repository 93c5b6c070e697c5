package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAnswer is returned when the model's structured answer does not
// name one of the known answer kinds.
var ErrUnknownAnswer = errors.New("unknown answer kind")

// DefaultOutOfScopeMessage is used when the model declines without a message.
const DefaultOutOfScopeMessage = "I'm not sure how to answer that based on the information I have."

type AnswerKind string

const (
	KindFinalAnswer    AnswerKind = "final_answer"
	KindOutOfScope     AnswerKind = "out_of_scope"
	KindRequireFigures AnswerKind = "require_figure"
)

// Answer is the closed set of outcomes of classify-and-answer. Callers
// switch over the concrete types FinalAnswer, OutOfScope and
// RequireFigureResponse.
type Answer interface {
	Kind() AnswerKind
	isAnswer()
}

// FinalAnswer is a direct answer from the retrieved context.
type FinalAnswer struct {
	Answer string
}

// OutOfScope means the context does not cover the question.
type OutOfScope struct {
	Message string
}

// RequireFigureResponse asks for the page images of the given figures
// before answering.
type RequireFigureResponse struct {
	FiguresLabels []string
}

func (FinalAnswer) Kind() AnswerKind           { return KindFinalAnswer }
func (OutOfScope) Kind() AnswerKind            { return KindOutOfScope }
func (RequireFigureResponse) Kind() AnswerKind { return KindRequireFigures }

func (FinalAnswer) isAnswer()           {}
func (OutOfScope) isAnswer()            {}
func (RequireFigureResponse) isAnswer() {}

// AnswerEnvelope is the structured output schema of classify-and-answer.
// Structured output needs a single object shape, so the variant is carried
// in Type and only the matching field is meaningful.
type AnswerEnvelope struct {
	Type          string   `json:"type" jsonschema:"enum=final_answer,enum=out_of_scope,enum=require_figure" jsonschema_description:"Which kind of response this is"`
	Answer        string   `json:"answer" jsonschema_description:"The answer to the user's query when type is final_answer"`
	Message       string   `json:"message" jsonschema_description:"The answer to an out of scope user's query when type is out_of_scope"`
	FiguresLabels []string `json:"figures_labels" jsonschema_description:"Figure labels likely required to answer the user's query using the provided context, e.g. ['Figure 1.1'], when type is require_figure"`
}

// Parse converts the envelope into its Answer variant.
func (e AnswerEnvelope) Parse() (Answer, error) {
	switch AnswerKind(strings.ToLower(strings.TrimSpace(e.Type))) {
	case KindFinalAnswer:
		return FinalAnswer{Answer: e.Answer}, nil
	case KindOutOfScope:
		msg := e.Message
		if strings.TrimSpace(msg) == "" {
			msg = DefaultOutOfScopeMessage
		}
		return OutOfScope{Message: msg}, nil
	case KindRequireFigures:
		labels := make([]string, 0, len(e.FiguresLabels))
		for _, l := range e.FiguresLabels {
			if l = strings.TrimSpace(l); l != "" {
				labels = append(labels, l)
			}
		}
		return RequireFigureResponse{FiguresLabels: labels}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnswer, e.Type)
	}
}
