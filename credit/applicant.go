package credit

import (
	"fmt"

	"github.com/liamcoop/creditapproval/model"
)

// Applicant is a validated credit application
type Applicant struct {
	Age             float64 `json:"age"`
	Income          float64 `json:"income"`
	CreditScore     float64 `json:"credit_score"`
	LoanAmount      float64 `json:"loan_amount"`
	EmploymentYears float64 `json:"employment_years"`
	ExistingDebts   float64 `json:"existing_debts"`
}

// ApplicantInput is the untrusted request payload. Pointer fields keep an
// absent field distinguishable from an explicit zero.
type ApplicantInput struct {
	Age             *float64 `json:"age"`
	Income          *float64 `json:"income"`
	CreditScore     *float64 `json:"credit_score"`
	LoanAmount      *float64 `json:"loan_amount"`
	EmploymentYears *float64 `json:"employment_years"`
	ExistingDebts   *float64 `json:"existing_debts"`
}

// Field returns the value of the named feature
func (a Applicant) Field(name string) (float64, bool) {
	switch name {
	case "age":
		return a.Age, true
	case "income":
		return a.Income, true
	case "credit_score":
		return a.CreditScore, true
	case "loan_amount":
		return a.LoanAmount, true
	case "employment_years":
		return a.EmploymentYears, true
	case "existing_debts":
		return a.ExistingDebts, true
	}
	return 0, false
}

// Vector encodes the applicant in the given feature order. The order must be
// the one recorded in the loaded bundle.
func (a Applicant) Vector(order []string) (model.FeatureVector, error) {
	v := make(model.FeatureVector, len(order))
	for i, name := range order {
		x, ok := a.Field(name)
		if !ok {
			return nil, fmt.Errorf("model expects unknown feature %q", name)
		}
		v[i] = x
	}
	return v, nil
}
