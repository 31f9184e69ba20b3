package roll

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Knetic/govaluate"
)

// Step names passed to the gate before each risky operation.
const (
	StepStart   = "start"
	StepDrain   = "drain"
	StepAction  = "action"
	StepRestore = "restore"
)

// Step describes one confirmation point.
type Step struct {
	// Name is one of the Step constants.
	Name string

	// Description is the operator-facing prompt text.
	Description string

	// InstanceID is the target EC2 instance, empty for run-level steps.
	InstanceID string

	// Ordinal and Total locate the instance in the work list (1-based).
	Ordinal int
	Total   int

	// RunningTasks is the task count on the target at gate time.
	RunningTasks int
}

// Gate decides whether a risky step proceeds. A false answer skips the
// current instance's remaining steps, not the whole run.
type Gate interface {
	Confirm(ctx context.Context, step Step) (bool, error)
}

// AutoYesGate approves every step without prompting.
type AutoYesGate struct{}

func (AutoYesGate) Confirm(ctx context.Context, step Step) (bool, error) {
	return true, nil
}

// InteractiveGate prompts the operator with a blocking y/n question.
// The whole process suspends on operator input, by the cooperative
// single-threaded model.
type InteractiveGate struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewInteractiveGate creates a gate reading answers from in and writing
// prompts to out.
func NewInteractiveGate(in io.Reader, out io.Writer) *InteractiveGate {
	return &InteractiveGate{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

func (g *InteractiveGate) Confirm(ctx context.Context, step Step) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(g.out, "%s y/n ", step.Description)
		if !g.in.Scan() {
			if err := g.in.Err(); err != nil {
				return false, fmt.Errorf("failed to read confirmation: %w", err)
			}
			return false, fmt.Errorf("confirmation input closed")
		}
		switch strings.ToLower(strings.TrimSpace(g.in.Text())) {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
	}
}

// ExpressionGate evaluates a boolean expression over the step's
// attributes, for rule-based unattended approval. Example:
//
//	step != 'action' || running_tasks == 0
type ExpressionGate struct {
	expr   *govaluate.EvaluableExpression
	logger *slog.Logger
}

// NewExpressionGate compiles the approval expression.
func NewExpressionGate(src string, logger *slog.Logger) (*ExpressionGate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, fmt.Errorf("invalid approval expression %q: %w", src, err)
	}
	return &ExpressionGate{expr: expr, logger: logger}, nil
}

func (g *ExpressionGate) Confirm(ctx context.Context, step Step) (bool, error) {
	params := map[string]interface{}{
		"step":          step.Name,
		"instance":      step.InstanceID,
		"ordinal":       float64(step.Ordinal),
		"total":         float64(step.Total),
		"running_tasks": float64(step.RunningTasks),
	}

	result, err := g.expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("approval expression failed for step %q: %w", step.Name, err)
	}
	approved, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("approval expression returned %T, want bool", result)
	}

	if !approved {
		g.logger.Info("approval expression declined step",
			"step", step.Name,
			"instance", step.InstanceID,
		)
	}
	return approved, nil
}
