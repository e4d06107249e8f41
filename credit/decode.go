package credit

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// BodyField names request-level problems in a ValidationError
const BodyField = "body"

// ParseApplicantInput decodes a JSON object into an ApplicantInput. Each field
// may be a JSON number or a string holding one; unknown keys are ignored.
//
// A body that is not a JSON object fails with a single BodyField error. When
// any field has the wrong type the returned *ValidationError lists it together
// with every missing or out-of-range field, in canonical order. Otherwise range
// checks are left to Validate.
func ParseApplicantInput(data []byte) (ApplicantInput, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return ApplicantInput{}, bodyError("request body required")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return ApplicantInput{}, bodyError("must be a JSON object")
		}
		return ApplicantInput{}, bodyError("invalid JSON")
	}

	var in ApplicantInput
	typeErrs := make(map[string]string)
	for _, rule := range fieldRules {
		value, ok := raw[rule.name]
		if !ok {
			continue
		}
		v, err := parseNumber(value)
		if err != nil {
			typeErrs[rule.name] = "must be a number"
			continue
		}
		*rule.field(&in) = v
	}
	if len(typeErrs) == 0 {
		return in, nil
	}

	var fields []FieldError
	for _, rule := range fieldRules {
		if msg, ok := typeErrs[rule.name]; ok {
			fields = append(fields, FieldError{Field: rule.name, Message: msg})
			continue
		}
		if msg := rule.check(*rule.field(&in)); msg != "" {
			fields = append(fields, FieldError{Field: rule.name, Message: msg})
		}
	}
	return ApplicantInput{}, &ValidationError{Fields: fields}
}

// parseNumber returns nil for JSON null
func parseNumber(msg json.RawMessage) (*float64, error) {
	trimmed := bytes.TrimSpace(msg)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}

	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func bodyError(msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: BodyField, Message: msg}}}
}
