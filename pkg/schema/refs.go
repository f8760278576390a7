package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxDocumentBytes = int64(5 << 20)
	defaultMaxDocuments     = 64
	defaultMaxRefDepth      = 32
)

var (
	// ErrExternalRef is returned when a $ref points outside the document and
	// no RefLoader is available to follow it.
	ErrExternalRef = errors.New("schema: external $ref requires a loader")
	// ErrRefCycle is returned for a $ref chain that refers back to itself.
	ErrRefCycle = errors.New("schema: $ref cycle")
)

// RefLoader loads the documents named by $refs that leave the current
// document. internal/fetch's Loader satisfies it.
type RefLoader interface {
	Load(ctx context.Context, src Source) (Document, error)
}

// RefOptions bounds $ref expansion.
type RefOptions struct {
	// AllowHTTPRefs lets relative refs of a URL document and absolute http(s)
	// refs be followed.
	AllowHTTPRefs bool
	// AllowPathTraversal permits relative refs to leave the root document's
	// directory.
	AllowPathTraversal bool
	// MaxDocumentBytes caps any single referenced document.
	MaxDocumentBytes int64
	// MaxDocuments caps the number of distinct documents loaded.
	MaxDocuments int
	// MaxRefDepth caps nested $ref chains.
	MaxRefDepth int
}

func (o RefOptions) withDefaults() RefOptions {
	if o.MaxDocumentBytes <= 0 {
		o.MaxDocumentBytes = defaultMaxDocumentBytes
	}
	if o.MaxDocuments <= 0 {
		o.MaxDocuments = defaultMaxDocuments
	}
	if o.MaxRefDepth <= 0 {
		o.MaxRefDepth = defaultMaxRefDepth
	}
	return o
}

// FromDocumentWithRefs parses doc like FromDocument and additionally follows
// $refs into sibling files or URLs through loader. The resulting schema holds
// no refs, so its Raw payload parses on its own.
func FromDocumentWithRefs(ctx context.Context, doc Document, loader RefLoader, opts RefOptions) (Schema, error) {
	if doc.Source() == nil {
		return Schema{}, errors.New("schema: document source is required")
	}
	payload, err := decodePayload(doc)
	if err != nil {
		return Schema{}, err
	}
	if !hasRefs(payload) {
		return FromDocument(doc)
	}

	exp := &expander{
		ctx:    ctx,
		loader: loader,
		opts:   opts.withDefaults(),
		cache:  make(map[string]*refDocument),
	}
	root, err := exp.root(doc, payload)
	if err != nil {
		return Schema{}, err
	}
	resolved, err := exp.expand(root, payload, nil)
	if err != nil {
		return Schema{}, err
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return Schema{}, fmt.Errorf("schema: encode resolved schema: %w", err)
	}
	return Parse(data)
}

// expandLocalRefs inlines refs that point into payload itself
// ("#/definitions/name", "#/$defs/name" or a "$anchor").
func expandLocalRefs(payload map[string]any) (map[string]any, error) {
	exp := &expander{opts: RefOptions{}.withDefaults(), cache: make(map[string]*refDocument)}
	root := &refDocument{key: "#", data: payload, anchors: map[string]string{}}
	if err := indexAnchors(payload, "", root.anchors); err != nil {
		return nil, err
	}
	resolved, err := exp.expand(root, payload, nil)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return out, nil
}

type refDocument struct {
	key      string
	kind     SourceKind
	location string
	baseDir  string
	data     map[string]any
	anchors  map[string]string
}

type expander struct {
	ctx     context.Context
	loader  RefLoader
	opts    RefOptions
	cache   map[string]*refDocument
	rootDir string
}

func (e *expander) root(doc Document, payload map[string]any) (*refDocument, error) {
	if int64(len(doc.Raw())) > e.opts.MaxDocumentBytes {
		return nil, fmt.Errorf("schema: document too large (%d bytes)", len(doc.Raw()))
	}
	key, location, baseDir, err := canonicalLocation(doc.Source())
	if err != nil {
		return nil, err
	}
	e.rootDir = baseDir
	root := &refDocument{
		key:      key,
		kind:     doc.Source().Kind(),
		location: location,
		baseDir:  baseDir,
		data:     payload,
		anchors:  map[string]string{},
	}
	if err := indexAnchors(payload, "", root.anchors); err != nil {
		return nil, err
	}
	e.cache[key] = root
	return root, nil
}

// expand walks the schema keywords that hold subschemas. Definition
// containers are left untouched so unused recursive definitions do not fail.
func (e *expander) expand(doc *refDocument, node any, stack []string) (any, error) {
	switch typed := node.(type) {
	case map[string]any:
		if ref, ok := typed["$ref"].(string); ok && strings.TrimSpace(ref) != "" {
			return e.follow(doc, typed, strings.TrimSpace(ref), stack)
		}
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			switch key {
			case "properties", "patternProperties":
				children, ok := value.(map[string]any)
				if !ok {
					out[key] = value
					continue
				}
				expanded := make(map[string]any, len(children))
				for name, child := range children {
					resolved, err := e.expand(doc, child, stack)
					if err != nil {
						return nil, err
					}
					expanded[name] = resolved
				}
				out[key] = expanded
			case "items", "additionalProperties", "not", "oneOf", "anyOf", "allOf":
				resolved, err := e.expand(doc, value, stack)
				if err != nil {
					return nil, err
				}
				out[key] = resolved
			default:
				out[key] = value
			}
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for i, entry := range typed {
			resolved, err := e.expand(doc, entry, stack)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return node, nil
	}
}

func (e *expander) follow(doc *refDocument, node map[string]any, ref string, stack []string) (any, error) {
	if len(stack) >= e.opts.MaxRefDepth {
		return nil, fmt.Errorf("schema: $ref depth exceeds %d at %s", e.opts.MaxRefDepth, ref)
	}
	target, fragment, err := e.target(doc, ref)
	if err != nil {
		return nil, err
	}
	key := target.key + "#" + fragment
	for _, seen := range stack {
		if seen == key {
			return nil, fmt.Errorf("%w at %s", ErrRefCycle, ref)
		}
	}
	resolved, err := resolveFragment(target, fragment)
	if err != nil {
		return nil, fmt.Errorf("schema: resolve %s: %w", ref, err)
	}

	// Sibling keywords of $ref refine the referenced schema.
	if merged, ok := resolved.(map[string]any); ok {
		for k, v := range node {
			if k != "$ref" {
				merged[k] = v
			}
		}
		resolved = merged
	}
	return e.expand(target, resolved, append(stack, key))
}

func (e *expander) target(doc *refDocument, ref string) (*refDocument, string, error) {
	refPath, fragment, _ := strings.Cut(ref, "#")
	if refPath == "" {
		return doc, fragment, nil
	}
	if e.loader == nil || doc.kind == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrExternalRef, ref)
	}

	parsed, err := url.Parse(refPath)
	if err != nil {
		return nil, "", fmt.Errorf("schema: invalid $ref %q", ref)
	}
	var src Source
	switch {
	case parsed.Scheme == "http" || parsed.Scheme == "https":
		if !e.opts.AllowHTTPRefs {
			return nil, "", fmt.Errorf("schema: http refs disabled (%s)", ref)
		}
		src, err = SourceFromURL(parsed.String())
	case parsed.Scheme != "":
		return nil, "", fmt.Errorf("schema: unsupported $ref scheme %q", parsed.Scheme)
	default:
		src, err = e.relative(doc, parsed.Path)
	}
	if err != nil {
		return nil, "", err
	}
	target, err := e.load(src)
	if err != nil {
		return nil, "", err
	}
	return target, fragment, nil
}

func (e *expander) relative(doc *refDocument, refPath string) (Source, error) {
	switch doc.kind {
	case SourceKindFile:
		candidate := refPath
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(doc.baseDir, refPath)
		}
		candidate = filepath.Clean(candidate)
		if !e.opts.AllowPathTraversal {
			rel, err := filepath.Rel(e.rootDir, candidate)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return nil, fmt.Errorf("schema: $ref escapes the schema directory (%s)", refPath)
			}
		}
		return SourceFromFile(candidate), nil
	case SourceKindFS:
		candidate := strings.TrimPrefix(path.Clean(path.Join(doc.baseDir, refPath)), "/")
		if !e.opts.AllowPathTraversal && !withinDir(e.rootDir, candidate) {
			return nil, fmt.Errorf("schema: $ref escapes the schema directory (%s)", refPath)
		}
		return SourceFromFS(candidate), nil
	case SourceKindURL:
		if !e.opts.AllowHTTPRefs {
			return nil, fmt.Errorf("schema: http refs disabled (%s)", refPath)
		}
		base, err := url.Parse(doc.location)
		if err != nil {
			return nil, err
		}
		rel, err := url.Parse(refPath)
		if err != nil {
			return nil, err
		}
		return SourceFromURL(base.ResolveReference(rel).String())
	default:
		return nil, fmt.Errorf("schema: relative $ref %q is not supported for %s sources", refPath, doc.kind)
	}
}

func (e *expander) load(src Source) (*refDocument, error) {
	key, location, baseDir, err := canonicalLocation(src)
	if err != nil {
		return nil, err
	}
	if cached, ok := e.cache[key]; ok {
		return cached, nil
	}
	if len(e.cache) >= e.opts.MaxDocuments {
		return nil, fmt.Errorf("schema: $ref expansion exceeds %d documents", e.opts.MaxDocuments)
	}

	doc, err := e.loader.Load(e.ctx, src)
	if err != nil {
		return nil, fmt.Errorf("schema: load $ref %s: %w", location, err)
	}
	if int64(len(doc.Raw())) > e.opts.MaxDocumentBytes {
		return nil, fmt.Errorf("schema: document %s too large (%d bytes)", location, len(doc.Raw()))
	}
	payload, err := decodePayload(doc)
	if err != nil {
		return nil, err
	}
	loaded := &refDocument{
		key:      key,
		kind:     src.Kind(),
		location: location,
		baseDir:  baseDir,
		data:     payload,
		anchors:  map[string]string{},
	}
	if err := indexAnchors(payload, "", loaded.anchors); err != nil {
		return nil, err
	}
	e.cache[key] = loaded
	return loaded, nil
}

func canonicalLocation(src Source) (key, location, baseDir string, err error) {
	if src == nil {
		return "", "", "", errors.New("schema: source is nil")
	}
	location = src.Location()
	switch src.Kind() {
	case SourceKindFile:
		abs, err := filepath.Abs(location)
		if err != nil {
			return "", "", "", err
		}
		return "file:" + abs, abs, filepath.Dir(abs), nil
	case SourceKindFS:
		cleaned := strings.TrimPrefix(path.Clean(location), "/")
		return "fs:" + cleaned, cleaned, path.Dir(cleaned), nil
	case SourceKindURL:
		return "url:" + location, location, path.Dir(location), nil
	default:
		return string(src.Kind()) + ":" + location, location, path.Dir(location), nil
	}
}

func withinDir(root, candidate string) bool {
	root = strings.TrimPrefix(path.Clean(root), "/")
	if root == "" || root == "." {
		return candidate != ".." && !strings.HasPrefix(candidate, "../")
	}
	return candidate == root || strings.HasPrefix(candidate, root+"/")
}

func resolveFragment(doc *refDocument, fragment string) (any, error) {
	if fragment == "" {
		return cloneValue(doc.data), nil
	}
	if !strings.HasPrefix(fragment, "/") {
		pointer, ok := doc.anchors[fragment]
		if !ok {
			return nil, fmt.Errorf("anchor %q not found", fragment)
		}
		fragment = pointer
	}
	return resolvePointer(doc.data, fragment)
}

func resolvePointer(root any, pointer string) (any, error) {
	if pointer == "" {
		return cloneValue(root), nil
	}
	current := root
	for _, part := range strings.Split(pointer, "/")[1:] {
		decoded, err := url.PathUnescape(part)
		if err != nil {
			return nil, err
		}
		decoded = strings.ReplaceAll(decoded, "~1", "/")
		decoded = strings.ReplaceAll(decoded, "~0", "~")

		switch typed := current.(type) {
		case map[string]any:
			value, ok := typed[decoded]
			if !ok {
				return nil, fmt.Errorf("pointer %q not found", pointer)
			}
			current = value
		case []any:
			idx, err := strconv.Atoi(decoded)
			if err != nil || idx < 0 || idx >= len(typed) {
				return nil, fmt.Errorf("pointer %q out of range", pointer)
			}
			current = typed[idx]
		default:
			return nil, fmt.Errorf("pointer %q is invalid", pointer)
		}
	}
	return cloneValue(current), nil
}

func indexAnchors(node any, pointer string, anchors map[string]string) error {
	switch typed := node.(type) {
	case map[string]any:
		if name, ok := typed["$anchor"].(string); ok && strings.TrimSpace(name) != "" {
			name = strings.TrimSpace(name)
			if _, exists := anchors[name]; exists {
				return fmt.Errorf("schema: duplicate anchor %q", name)
			}
			anchors[name] = pointer
		}
		for key, value := range typed {
			if strings.HasPrefix(key, "x-") {
				continue
			}
			escaped := strings.ReplaceAll(strings.ReplaceAll(key, "~", "~0"), "/", "~1")
			if err := indexAnchors(value, pointer+"/"+escaped, anchors); err != nil {
				return err
			}
		}
	case []any:
		for i, value := range typed {
			if err := indexAnchors(value, pointer+"/"+strconv.Itoa(i), anchors); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasRefs(node any) bool {
	switch typed := node.(type) {
	case map[string]any:
		if _, ok := typed["$ref"]; ok {
			return true
		}
		for key, value := range typed {
			if strings.HasPrefix(key, "x-") {
				continue
			}
			if hasRefs(value) {
				return true
			}
		}
	case []any:
		for _, value := range typed {
			if hasRefs(value) {
				return true
			}
		}
	}
	return false
}

func decodePayload(doc Document) (map[string]any, error) {
	raw := doc.Raw()
	if doc.IsYAML() {
		var node any
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("schema: decode yaml %s: %w", doc.Location(), err)
		}
		payload, ok := normalizeYAML(node).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: %s: %w", doc.Location(), ErrNotObject)
		}
		return payload, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("schema: decode %s: %w", doc.Location(), err)
	}
	return payload, nil
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, v := range typed {
			out[key] = cloneValue(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = cloneValue(v)
		}
		return out
	default:
		return typed
	}
}
