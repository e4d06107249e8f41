package synth

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultLabelRule approves applicants with a decent score, an income that
// covers a fifth of the loan, and who are past their early twenties
const DefaultLabelRule = "credit_score > 600.0 && income > loan_amount * 0.2 && age > 21.0"

// costLimit bounds rule evaluation so a pathological expression cannot stall training
const costLimit = 1000000

// Labeler assigns approval labels with a CEL expression over the applicant features.
// A compiled Labeler is safe for concurrent use.
type Labeler struct {
	expression string
	features   []string
	prog       cel.Program
}

// NewLabeler compiles expression with one double variable per feature name.
// Integer literals compare against doubles, so "age > 21" is accepted.
func NewLabeler(expression string, features []string) (*Labeler, error) {
	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, f := range features {
		opts = append(opts, cel.Variable(f, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("label rule must evaluate to bool, got %s", ast.OutputType())
	}

	prog, err := env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Labeler{
		expression: expression,
		features:   append([]string(nil), features...),
		prog:       prog,
	}, nil
}

// Expression returns the source of the compiled rule
func (l *Labeler) Expression() string {
	return l.expression
}

// Label evaluates the rule for one row laid out in the labeler's feature order
func (l *Labeler) Label(row []float64) (int, error) {
	if len(row) != len(l.features) {
		return 0, fmt.Errorf("row has %d values, rule expects %d", len(row), len(l.features))
	}

	vars := make(map[string]any, len(row))
	for i, f := range l.features {
		vars[f] = row[i]
	}

	out, _, err := l.prog.Eval(vars)
	if err != nil {
		return 0, fmt.Errorf("evaluation error: %w", err)
	}

	if matched, ok := out.Value().(bool); ok && matched {
		return 1, nil
	}
	return 0, nil
}
