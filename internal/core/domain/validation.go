package domain

// ValidationResult is the outcome of validating one file.
// It is consumed immediately by the merge and never persisted.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors,omitempty"`
}

// Reason joins the validation errors into a single line suitable for the
// manifest and the quarantine report.
func (r ValidationResult) Reason() string {
	switch len(r.Errors) {
	case 0:
		return ""
	case 1:
		return r.Errors[0]
	}
	reason := r.Errors[0]
	for _, e := range r.Errors[1:] {
		reason += "; " + e
	}
	return reason
}
