package roll

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestInteractiveGate_Answers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"no", "n\n", false},
		{"reprompts on garbage", "maybe\nY\n", true},
		{"case insensitive no", "N\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			g := NewInteractiveGate(strings.NewReader(tt.input), &out)
			got, err := g.Confirm(context.Background(), Step{Name: StepDrain, Description: "drain instance i-1?"})
			if err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm=%v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "drain instance i-1?") {
				t.Errorf("prompt output %q missing description", out.String())
			}
		})
	}
}

func TestInteractiveGate_ClosedInput(t *testing.T) {
	g := NewInteractiveGate(strings.NewReader(""), new(bytes.Buffer))
	ok, err := g.Confirm(context.Background(), Step{Name: StepStart})
	if err == nil {
		t.Fatal("Confirm with closed input: want error")
	}
	if ok {
		t.Error("Confirm returned true on closed input")
	}
}

func TestExpressionGate_Evaluates(t *testing.T) {
	g, err := NewExpressionGate("step != 'action' || running_tasks == 0", discardLogger())
	if err != nil {
		t.Fatalf("NewExpressionGate: %v", err)
	}

	tests := []struct {
		name string
		step Step
		want bool
	}{
		{"drain always approved", Step{Name: StepDrain, RunningTasks: 7}, true},
		{"busy action declined", Step{Name: StepAction, RunningTasks: 2}, false},
		{"idle action approved", Step{Name: StepAction, RunningTasks: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Confirm(context.Background(), tt.step)
			if err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpressionGate_InvalidExpression(t *testing.T) {
	if _, err := NewExpressionGate("step ==", nil); err == nil {
		t.Fatal("NewExpressionGate with malformed expression: want error")
	}
}

func TestExpressionGate_NonBoolResult(t *testing.T) {
	g, err := NewExpressionGate("running_tasks + 1", discardLogger())
	if err != nil {
		t.Fatalf("NewExpressionGate: %v", err)
	}
	if _, err := g.Confirm(context.Background(), Step{Name: StepDrain}); err == nil {
		t.Fatal("Confirm with non-bool expression: want error")
	}
}
