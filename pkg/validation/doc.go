// Package validation checks a merged catalog document against the primary
// schema, checks the secondary buffer against the secondary schema, and
// routes every resulting error to the sub-form that owns the field.
//
// Ownership is decided per top-level field: a field belongs to the secondary
// form only when the secondary schema declares it and the primary schema does
// not. Everything else, including fields neither schema knows about, belongs
// to the primary form.
package validation
