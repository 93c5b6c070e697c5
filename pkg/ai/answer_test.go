package ai

import (
	"errors"
	"testing"
)

func TestAnswerEnvelopeParse(t *testing.T) {
	tests := []struct {
		name     string
		envelope AnswerEnvelope
		wantKind AnswerKind
	}{
		{name: "final", envelope: AnswerEnvelope{Type: "final_answer", Answer: "Cells are small."}, wantKind: KindFinalAnswer},
		{name: "out of scope", envelope: AnswerEnvelope{Type: "out_of_scope"}, wantKind: KindOutOfScope},
		{name: "figures", envelope: AnswerEnvelope{Type: "require_figure", FiguresLabels: []string{"Figure 1.1"}}, wantKind: KindRequireFigures},
		{name: "case and whitespace", envelope: AnswerEnvelope{Type: " Final_Answer "}, wantKind: KindFinalAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.envelope.Parse()
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got.Kind() != tt.wantKind {
				t.Fatalf("Parse() kind = %s, want %s", got.Kind(), tt.wantKind)
			}
		})
	}
}

func TestAnswerEnvelopeParse_Variants(t *testing.T) {
	got, err := AnswerEnvelope{Type: "out_of_scope"}.Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	oos, ok := got.(OutOfScope)
	if !ok {
		t.Fatalf("expected OutOfScope, got %T", got)
	}
	if oos.Message != DefaultOutOfScopeMessage {
		t.Fatalf("expected default message, got %q", oos.Message)
	}

	got, err = AnswerEnvelope{Type: "require_figure", FiguresLabels: []string{"Figure 1.1", " ", "Figure 1.2 "}}.Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	fig, ok := got.(RequireFigureResponse)
	if !ok {
		t.Fatalf("expected RequireFigureResponse, got %T", got)
	}
	if len(fig.FiguresLabels) != 2 || fig.FiguresLabels[1] != "Figure 1.2" {
		t.Fatalf("unexpected labels %q", fig.FiguresLabels)
	}
}

func TestAnswerEnvelopeParse_Unknown(t *testing.T) {
	_, err := AnswerEnvelope{Type: "maybe"}.Parse()
	if !errors.Is(err, ErrUnknownAnswer) {
		t.Fatalf("expected ErrUnknownAnswer, got %v", err)
	}
}

func TestNewGraphBase64(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	b := NewGraphBase64(png)
	if b.FileType != "data:image/png;base64," {
		t.Fatalf("unexpected file type %q", b.FileType)
	}
	raw, err := b.Raw()
	if err != nil {
		t.Fatalf("Raw() error = %v", err)
	}
	if string(raw) != string(png) {
		t.Fatal("round trip changed the payload")
	}

	unknown := NewGraphBase64([]byte("plain text"))
	if unknown.FileType != "data:image/png;base64," {
		t.Fatalf("expected png fallback, got %q", unknown.FileType)
	}
}
