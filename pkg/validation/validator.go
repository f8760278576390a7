package validation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-catalogform/pkg/buffer"
	"github.com/goliatone/go-catalogform/pkg/schema"
)

// Pass identifies which validation pass produced an issue.
type Pass string

const (
	// PassMerged validates the merged document against the primary schema.
	PassMerged Pass = "merged"
	// PassSecondary validates the secondary buffer against the secondary schema.
	PassSecondary Pass = "secondary"
)

// Issue is a single validation error.
type Issue struct {
	Path    string `json:"path,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Keyword string `json:"keyword,omitempty"`
	Owner   Owner  `json:"owner"`
	Pass    Pass   `json:"pass"`
}

// KeywordAdditionalProperties marks issues raised for a property a closed
// schema does not declare.
const KeywordAdditionalProperties = "additionalProperties"

// Result is the outcome of a cross-schema validation.
type Result struct {
	Passed          bool                `json:"passed"`
	PrimaryErrors   map[string][]string `json:"primaryErrors"`
	SecondaryErrors map[string][]string `json:"secondaryErrors"`
	FlatMessages    []string            `json:"flatMessages,omitempty"`
	Issues          []Issue             `json:"issues,omitempty"`
}

// ErrorsFor returns the bucket of the given owner.
func (r Result) ErrorsFor(owner Owner) map[string][]string {
	if owner == OwnerSecondary {
		return r.SecondaryErrors
	}
	return r.PrimaryErrors
}

// Option customises a Validator.
type Option func(*Validator)

// WithEmptyAsMissing controls whether empty strings are treated as absent
// values, so a blank required field reports as missing. Defaults to true.
func WithEmptyAsMissing(enabled bool) Option {
	return func(v *Validator) {
		v.emptyAsMissing = enabled
	}
}

// WithFormat registers or replaces a format check. A nil check disables the
// format.
func WithFormat(name string, check FormatCheck) Option {
	return func(v *Validator) {
		if check == nil {
			delete(v.formats, name)
			return
		}
		v.formats[name] = check
	}
}

// Validator runs the two validation passes and routes their errors.
type Validator struct {
	emptyAsMissing bool
	formats        map[string]FormatCheck
}

// New constructs a Validator.
func New(options ...Option) *Validator {
	v := &Validator{
		emptyAsMissing: true,
		formats:        DefaultFormats(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(v)
	}
	return v
}

// Validate checks merged against primary and, when secondary is non-nil,
// secondaryBuffer against secondary. The merged pass always runs: the
// secondary schema cannot see primary-required fields. A closed primary
// schema does not reject properties the secondary schema declares; those
// are validated by the secondary pass.
func (v *Validator) Validate(merged map[string]any, primary schema.Schema, secondaryBuffer map[string]any, secondary *schema.Schema) Result {
	issues := v.check(merged, primary, PassMerged)
	if secondary != nil {
		issues = dropSecondaryProperties(issues, *secondary)
		issues = append(issues, v.check(secondaryBuffer, *secondary, PassSecondary)...)
	}
	return route(issues, primary, secondary)
}

func dropSecondaryProperties(issues []Issue, secondary schema.Schema) []Issue {
	out := issues[:0]
	for _, issue := range issues {
		if issue.Keyword == KeywordAdditionalProperties && !strings.Contains(issue.Path, ".") && secondary.HasProperty(issue.Field) {
			continue
		}
		out = append(out, issue)
	}
	return out
}

// Check validates a single document against a single schema. Every issue is
// owned by the primary form.
func (v *Validator) Check(doc map[string]any, s schema.Schema) Result {
	return route(v.check(doc, s, PassMerged), s, nil)
}

func (v *Validator) check(doc map[string]any, s schema.Schema, pass Pass) []Issue {
	value, err := buffer.Normalize(doc)
	if err != nil {
		return []Issue{{Field: FormField, Message: err.Error(), Pass: pass}}
	}
	if v.emptyAsMissing {
		value = pruneEmpty(value)
	}

	target := s.Value()
	var issues []Issue
	collectIssues(target.VisitJSON(value, openapi3.MultiErrors()), &issues)
	issues = append(issues, formatIssues(target, value, "", v.formats)...)

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Path < issues[j].Path
	})
	for i := range issues {
		issues[i].Pass = pass
	}
	return issues
}

func collectIssues(err error, out *[]Issue) {
	if err == nil {
		return
	}
	switch typed := err.(type) {
	case openapi3.MultiError:
		for _, inner := range typed {
			collectIssues(inner, out)
		}
		return
	case *openapi3.SchemaError:
		tokens := typed.JSONPointer()
		var keyword string
		if name, ok := unsupportedProperty(typed); ok {
			tokens = append(tokens, name)
			keyword = KeywordAdditionalProperties
		}
		path := JoinPointer(tokens)
		*out = append(*out, Issue{
			Path:    path,
			Field:   FirstSegment(path),
			Message: schemaErrorMessage(typed),
			Keyword: keyword,
		})
		return
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		collectIssues(schemaErr, out)
		return
	}
	*out = append(*out, Issue{Field: FormField, Message: strings.TrimSpace(err.Error())})
}

// unsupportedProperty extracts the property name from an additionalProperties
// violation. kin-openapi reports these against the parent object, with the
// name only in the reason.
func unsupportedProperty(err *openapi3.SchemaError) (string, bool) {
	if err.SchemaField != "properties" {
		return "", false
	}
	reason := strings.TrimSpace(err.Reason)
	if !strings.HasPrefix(reason, "property ") || !strings.HasSuffix(reason, " is unsupported") {
		return "", false
	}
	quoted := strings.TrimSuffix(strings.TrimPrefix(reason, "property "), " is unsupported")
	name, unquoteErr := strconv.Unquote(quoted)
	if unquoteErr != nil || name == "" {
		return "", false
	}
	return name, true
}

func schemaErrorMessage(err *openapi3.SchemaError) string {
	if _, ok := unsupportedProperty(err); ok {
		return "is not an allowed property"
	}
	if err.SchemaField == "required" {
		return "is a required property"
	}
	reason := strings.TrimSpace(err.Reason)
	if reason == "" {
		reason = strings.TrimSpace(err.Error())
	}
	return reason
}

func route(issues []Issue, primary schema.Schema, secondary *schema.Schema) Result {
	result := Result{
		PrimaryErrors:   make(map[string][]string),
		SecondaryErrors: make(map[string][]string),
	}

	var flat []string
	for _, issue := range issues {
		if issue.Field == "" {
			issue.Field = FormField
		}
		issue.Owner = Classify(issue.Field, primary, secondary)
		bucket := result.PrimaryErrors
		if issue.Owner == OwnerSecondary {
			bucket = result.SecondaryErrors
		}
		bucket[issue.Field] = append(bucket[issue.Field], issue.Message)
		flat = append(flat, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
		result.Issues = append(result.Issues, issue)
	}

	for field, messages := range result.PrimaryErrors {
		result.PrimaryErrors[field] = normalizeMessages(messages)
	}
	for field, messages := range result.SecondaryErrors {
		result.SecondaryErrors[field] = normalizeMessages(messages)
	}
	result.FlatMessages = normalizeMessages(flat)
	result.Passed = len(result.PrimaryErrors) == 0 && len(result.SecondaryErrors) == 0
	return result
}

func pruneEmpty(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		switch typed := value.(type) {
		case string:
			if typed == "" {
				continue
			}
			out[key] = typed
		case map[string]any:
			out[key] = pruneEmpty(typed)
		default:
			out[key] = typed
		}
	}
	return out
}
