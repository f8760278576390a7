package prompt

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Setter stores an answer at a dotted path.
type Setter func(ctx context.Context, path string, value any) error

// Getter reads the current value at a dotted path.
type Getter func(path string) (any, bool)

type fieldPrompter struct {
	driver Driver
	get    Getter
	set    Setter
}

func (p fieldPrompter) prompt(ctx context.Context, path string, field *openapi3.Schema, required bool) error {
	switch {
	case field == nil:
		return nil
	case isType(field, openapi3.TypeObject) && len(field.Properties) > 0:
		return p.promptObject(ctx, path, field)
	case isType(field, openapi3.TypeBoolean):
		return p.promptBoolean(ctx, path, field)
	case isType(field, openapi3.TypeInteger), isType(field, openapi3.TypeNumber):
		return p.promptNumber(ctx, path, field, required)
	case isType(field, openapi3.TypeArray):
		return p.promptArray(ctx, path, field, required)
	case len(field.Enum) > 0:
		return p.promptEnum(ctx, path, field)
	default:
		return p.promptString(ctx, path, field, required)
	}
}

func (p fieldPrompter) promptObject(ctx context.Context, path string, field *openapi3.Schema) error {
	names := make([]string, 0, len(field.Properties))
	for name := range field.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ref := field.Properties[name]
		if ref == nil {
			continue
		}
		if err := p.prompt(ctx, path+"."+name, ref.Value, contains(field.Required, name)); err != nil {
			return err
		}
	}
	return nil
}

func (p fieldPrompter) promptString(ctx context.Context, path string, field *openapi3.Schema, required bool) error {
	cfg := InputConfig{
		Message: label(path, field, required),
		Default: p.defaultString(path, field),
		Help:    field.Description,
	}
	var (
		answer string
		err    error
	)
	if field.Format == "password" {
		answer, err = p.driver.Password(ctx, cfg)
	} else {
		answer, err = p.driver.Input(ctx, cfg)
	}
	if err != nil {
		return err
	}
	return p.set(ctx, path, strings.TrimSpace(answer))
}

func (p fieldPrompter) promptBoolean(ctx context.Context, path string, field *openapi3.Schema) error {
	def := false
	if current, ok := p.get(path); ok {
		def, _ = current.(bool)
	} else if b, ok := field.Default.(bool); ok {
		def = b
	}
	answer, err := p.driver.Confirm(ctx, ConfirmConfig{
		Message: label(path, field, false),
		Default: def,
		Help:    field.Description,
	})
	if err != nil {
		return err
	}
	return p.set(ctx, path, answer)
}

func (p fieldPrompter) promptNumber(ctx context.Context, path string, field *openapi3.Schema, required bool) error {
	integer := isType(field, openapi3.TypeInteger)
	for {
		answer, err := p.driver.Input(ctx, InputConfig{
			Message: label(path, field, required),
			Default: p.defaultString(path, field),
			Help:    field.Description,
		})
		if err != nil {
			return err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return p.set(ctx, path, "")
		}

		var parsed any
		if integer {
			i, err := strconv.ParseInt(answer, 10, 64)
			if err != nil {
				_ = p.driver.Info(ctx, fmt.Sprintf("Invalid %s: expected an integer", path))
				continue
			}
			parsed = i
		} else {
			f, err := strconv.ParseFloat(answer, 64)
			if err != nil {
				_ = p.driver.Info(ctx, fmt.Sprintf("Invalid %s: expected a number", path))
				continue
			}
			parsed = f
		}
		return p.set(ctx, path, parsed)
	}
}

func (p fieldPrompter) promptEnum(ctx context.Context, path string, field *openapi3.Schema) error {
	options := stringify(field.Enum)
	def := -1
	if current, ok := p.get(path); ok {
		def = indexOf(options, fmt.Sprint(current))
	} else if field.Default != nil {
		def = indexOf(options, fmt.Sprint(field.Default))
	}
	for {
		idx, err := p.driver.Select(ctx, SelectConfig{
			Message:      label(path, field, false),
			Options:      options,
			DefaultIndex: def,
			Help:         field.Description,
		})
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(field.Enum) {
			_ = p.driver.Info(ctx, fmt.Sprintf("Invalid %s selection", path))
			continue
		}
		return p.set(ctx, path, field.Enum[idx])
	}
}

func (p fieldPrompter) promptArray(ctx context.Context, path string, field *openapi3.Schema, required bool) error {
	if field.Items != nil && field.Items.Value != nil && len(field.Items.Value.Enum) > 0 {
		options := stringify(field.Items.Value.Enum)
		var defaults []int
		if current, ok := p.get(path); ok {
			if values, ok := current.([]any); ok {
				defaults = indicesOf(options, stringify(values))
			}
		}
		picked, err := p.driver.MultiSelect(ctx, SelectConfig{
			Message:  label(path, field, required),
			Options:  options,
			Defaults: defaults,
			Help:     field.Description,
		})
		if err != nil {
			return err
		}
		values := make([]any, 0, len(picked))
		for _, idx := range picked {
			values = append(values, field.Items.Value.Enum[idx])
		}
		return p.set(ctx, path, values)
	}

	answer, err := p.driver.Input(ctx, InputConfig{
		Message: label(path, field, required) + " (comma separated)",
		Default: p.defaultString(path, field),
		Help:    field.Description,
	})
	if err != nil {
		return err
	}
	values := []any{}
	for _, part := range strings.Split(answer, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return p.set(ctx, path, values)
}

func (p fieldPrompter) defaultString(path string, field *openapi3.Schema) string {
	if current, ok := p.get(path); ok && current != nil {
		if values, ok := current.([]any); ok {
			return strings.Join(stringify(values), ", ")
		}
		return fmt.Sprint(current)
	}
	if field.Default != nil {
		return fmt.Sprint(field.Default)
	}
	return ""
}

func label(path string, field *openapi3.Schema, required bool) string {
	text := strings.TrimSpace(field.Title)
	if text == "" {
		text = path
	}
	if required {
		text += " *"
	}
	return text
}

func isType(field *openapi3.Schema, typ string) bool {
	return field.Type != nil && field.Type.Is(typ)
}

func stringify(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
