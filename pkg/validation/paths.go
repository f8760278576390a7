package validation

import "strings"

// FormField keys errors that are not attached to any field, such as a root
// document that is not an object.
const FormField = "__all__"

// FirstSegment returns the top-level field of a dotted path or JSON pointer:
// "owner.email", "/owner/email", "#/owner/email", ".owner" and "tags[0]" all
// yield their first field name. Empty paths yield FormField.
func FirstSegment(path string) string {
	segments := splitPath(path)
	if len(segments) == 0 {
		return FormField
	}
	return segments[0]
}

// JoinPointer converts JSON pointer tokens into a dotted path.
func JoinPointer(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.ReplaceAll(token, "~1", "/")
		token = strings.ReplaceAll(token, "~0", "~")
		if token == "" {
			continue
		}
		out = append(out, token)
	}
	return strings.Join(out, ".")
}

func splitPath(path string) []string {
	clean := strings.TrimSpace(path)
	for strings.HasPrefix(clean, "#") || strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, ".") || strings.HasPrefix(clean, "$") {
		clean = clean[1:]
	}
	replacer := strings.NewReplacer("[", ".", "]", "")
	clean = replacer.Replace(clean)
	if clean == "" {
		return nil
	}

	parts := strings.FieldsFunc(clean, func(r rune) bool {
		return r == '.' || r == '/'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		segment := strings.TrimSpace(part)
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(segment, "~1", "/")
		segment = strings.ReplaceAll(segment, "~0", "~")
		out = append(out, segment)
	}
	return out
}

func normalizeMessages(messages []string) []string {
	if len(messages) == 0 {
		return nil
	}
	out := make([]string, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, message := range messages {
		trimmed := strings.TrimSpace(message)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
