package validation

import "github.com/goliatone/go-catalogform/pkg/schema"

// Owner identifies the sub-form an error is displayed on.
type Owner string

const (
	OwnerPrimary   Owner = "primary"
	OwnerSecondary Owner = "secondary"
)

// Classify assigns a top-level field to a sub-form. Unknown and ambiguous
// fields default to the primary form.
func Classify(field string, primary schema.Schema, secondary *schema.Schema) Owner {
	if secondary == nil || field == FormField {
		return OwnerPrimary
	}
	if secondary.HasProperty(field) && !primary.HasProperty(field) {
		return OwnerSecondary
	}
	return OwnerPrimary
}
