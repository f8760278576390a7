package validation

import (
	"fmt"
	"net/mail"
	"net/netip"
	"net/url"
	"regexp"
	"sort"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"
)

// FormatCheck validates a string value for a schema "format".
type FormatCheck func(value string) error

var hostnamePattern = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)(?:\.(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?))*$`)

// DefaultFormats returns the format checks applied on top of the structural
// pass. date and date-time are left to kin-openapi, which checks them itself.
func DefaultFormats() map[string]FormatCheck {
	return map[string]FormatCheck{
		"email":    checkEmail,
		"ipv4":     checkIPv4,
		"ipv6":     checkIPv6,
		"hostname": checkHostname,
		"uri":      checkURI,
		"uuid":     checkUUID,
	}
}

func checkEmail(value string) error {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

func checkIPv4(value string) error {
	addr, err := netip.ParseAddr(value)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("must be a valid IPv4 address")
	}
	return nil
}

func checkIPv6(value string) error {
	addr, err := netip.ParseAddr(value)
	if err != nil || !addr.Is6() {
		return fmt.Errorf("must be a valid IPv6 address")
	}
	return nil
}

func checkHostname(value string) error {
	if len(value) > 253 || !hostnamePattern.MatchString(value) {
		return fmt.Errorf("must be a valid hostname")
	}
	return nil
}

func checkURI(value string) error {
	parsed, err := url.ParseRequestURI(value)
	if err != nil || parsed.Scheme == "" {
		return fmt.Errorf("must be a valid URI")
	}
	return nil
}

func checkUUID(value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("must be a valid UUID")
	}
	return nil
}

// formatIssues walks value alongside s and reports string values that fail
// their declared format.
func formatIssues(s *openapi3.Schema, value any, path string, checks map[string]FormatCheck) []Issue {
	if s == nil || len(checks) == 0 {
		return nil
	}

	var issues []Issue
	switch typed := value.(type) {
	case string:
		check, ok := checks[s.Format]
		if !ok || typed == "" {
			return nil
		}
		if err := check(typed); err != nil {
			issues = append(issues, Issue{Path: path, Field: FirstSegment(path), Message: err.Error()})
		}
	case map[string]any:
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ref := s.Properties[name]
			child, ok := typed[name]
			if !ok || ref == nil {
				continue
			}
			issues = append(issues, formatIssues(ref.Value, child, joinPath(path, name), checks)...)
		}
	case []any:
		if s.Items == nil {
			return nil
		}
		for idx, item := range typed {
			issues = append(issues, formatIssues(s.Items.Value, item, joinPath(path, strconv.Itoa(idx)), checks)...)
		}
	}
	return issues
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
