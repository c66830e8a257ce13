package domain

// Violation is one structured rejection reason, e.g. {upperbound, {boundary: 5}}.
type Violation struct {
	Label  string         `json:"label"`
	Params map[string]any `json:"params,omitempty"`
}

// FieldViolations maps a field name (e.g. "quantity") to its ordered violations.
type FieldViolations map[string][]Violation

// Violations maps a line item id to its field violations.
type Violations map[string]FieldViolations

// Presentable reshapes violations into field -> label -> params, which is the
// shape views bind to.
func (f FieldViolations) Presentable() map[string]map[string]map[string]any {
	out := make(map[string]map[string]map[string]any, len(f))
	for field, violations := range f {
		labels := make(map[string]map[string]any, len(violations))
		for _, v := range violations {
			params := v.Params
			if params == nil {
				params = map[string]any{}
			}
			labels[v.Label] = params
		}
		out[field] = labels
	}
	return out
}

// ValidationOutcome is the result of one validation round-trip.
type ValidationOutcome struct {
	Accepted   bool
	Violations Violations
}

// Accept is the outcome for a validation that found nothing wrong.
func Accept() ValidationOutcome {
	return ValidationOutcome{Accepted: true}
}

// Reject builds a rejected outcome.
func Reject(v Violations) ValidationOutcome {
	return ValidationOutcome{Violations: v}
}

// For returns the violations recorded for the given item id, if any.
func (o ValidationOutcome) For(id string) (FieldViolations, bool) {
	if o.Accepted || o.Violations == nil {
		return nil, false
	}
	v, ok := o.Violations[id]
	return v, ok
}
