package credit

import (
	"fmt"
	"math"
	"strings"
)

// FieldError describes one rejected request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// bound is one side of a field's allowed range
type bound struct {
	value     float64
	inclusive bool
}

type fieldRule struct {
	name  string
	field func(in *ApplicantInput) **float64
	min   *bound
	max   *bound
}

// fieldRules holds the constraints in canonical field order
var fieldRules = []fieldRule{
	{
		name:  "age",
		field: func(in *ApplicantInput) **float64 { return &in.Age },
		min:   &bound{0, false},
		max:   &bound{100, true},
	},
	{
		name:  "income",
		field: func(in *ApplicantInput) **float64 { return &in.Income },
		min:   &bound{0, false},
	},
	{
		name:  "credit_score",
		field: func(in *ApplicantInput) **float64 { return &in.CreditScore },
		min:   &bound{0, true},
		max:   &bound{1000, true},
	},
	{
		name:  "loan_amount",
		field: func(in *ApplicantInput) **float64 { return &in.LoanAmount },
		min:   &bound{0, false},
	},
	{
		name:  "employment_years",
		field: func(in *ApplicantInput) **float64 { return &in.EmploymentYears },
		min:   &bound{0, true},
		max:   &bound{60, true},
	},
	{
		name:  "existing_debts",
		field: func(in *ApplicantInput) **float64 { return &in.ExistingDebts },
		min:   &bound{0, true},
	},
}

// Validate checks every field and returns the applicant, or a *ValidationError
// naming all missing and out-of-range fields
func (in ApplicantInput) Validate() (Applicant, error) {
	var fields []FieldError
	for _, rule := range fieldRules {
		if msg := rule.check(*rule.field(&in)); msg != "" {
			fields = append(fields, FieldError{Field: rule.name, Message: msg})
		}
	}
	if len(fields) > 0 {
		return Applicant{}, &ValidationError{Fields: fields}
	}

	return Applicant{
		Age:             *in.Age,
		Income:          *in.Income,
		CreditScore:     *in.CreditScore,
		LoanAmount:      *in.LoanAmount,
		EmploymentYears: *in.EmploymentYears,
		ExistingDebts:   *in.ExistingDebts,
	}, nil
}

func (r fieldRule) check(v *float64) string {
	if v == nil {
		return "field required"
	}
	x := *v
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return "must be a finite number"
	}
	if r.min != nil {
		if r.min.inclusive && x < r.min.value {
			return fmt.Sprintf("must be greater than or equal to %g", r.min.value)
		}
		if !r.min.inclusive && x <= r.min.value {
			return fmt.Sprintf("must be greater than %g", r.min.value)
		}
	}
	if r.max != nil {
		if r.max.inclusive && x > r.max.value {
			return fmt.Sprintf("must be less than or equal to %g", r.max.value)
		}
		if !r.max.inclusive && x >= r.max.value {
			return fmt.Sprintf("must be less than %g", r.max.value)
		}
	}
	return ""
}
