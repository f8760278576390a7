// Package bundle reads catalog item bundles: a directory holding
// manifest.yaml, the primary schema.json and the secondary schemas the
// primary schema map references.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-catalogform/pkg/schema"
)

const (
	ManifestFile = "manifest.yaml"
	SchemaFile   = "schema.json"
	schemaYAML   = "schema.yaml"
)

// ErrNoSchema is returned when a bundle directory has no primary schema.
var ErrNoSchema = errors.New("bundle: primary schema not found")

// Manifest describes a catalog item version.
type Manifest struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version" json:"version"`
	Entrypoint  string   `yaml:"entrypoint" json:"entrypoint"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Validate checks the required manifest fields.
func (m Manifest) Validate() error {
	var missing []string
	if strings.TrimSpace(m.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(m.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(m.Version) == "" {
		missing = append(missing, "version")
	}
	if strings.TrimSpace(m.Entrypoint) == "" {
		missing = append(missing, "entrypoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("bundle: manifest missing field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// Bundle is a loaded catalog item version.
type Bundle struct {
	Manifest Manifest
	Primary  schema.Schema
	// Additional holds the secondary schemas keyed by schema map reference.
	Additional map[string]schema.Schema
	// Missing lists schema map references with no file in the bundle.
	Missing []string
}

// ReadManifest decodes dir/manifest.yaml.
func ReadManifest(fsys fs.FS, dir string) (Manifest, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("bundle: decode manifest: %w", err)
	}
	return manifest, nil
}

// ReadSchema parses dir/name as JSON or YAML by extension. Refs to other
// files of the bundle are inlined, so the stored payload stands alone.
func ReadSchema(fsys fs.FS, dir, name string) (schema.Schema, error) {
	location := path.Join(dir, name)
	loader := refLoader{fsys: fsys}
	doc, err := loader.Load(context.Background(), schema.SourceFromFS(location))
	if err != nil {
		return schema.Schema{}, err
	}
	parsed, err := schema.FromDocumentWithRefs(context.Background(), doc, loader, schema.RefOptions{})
	if err != nil {
		return schema.Schema{}, fmt.Errorf("bundle: %s: %w", location, err)
	}
	return parsed, nil
}

type refLoader struct {
	fsys fs.FS
}

func (l refLoader) Load(_ context.Context, src schema.Source) (schema.Document, error) {
	if src.Kind() != schema.SourceKindFS {
		return schema.Document{}, fmt.Errorf("bundle: %s refs are not supported", src.Kind())
	}
	data, err := fs.ReadFile(l.fsys, src.Location())
	if err != nil {
		return schema.Document{}, err
	}
	return schema.NewDocument(src, data)
}

// ReadPrimary parses the primary schema of dir.
func ReadPrimary(fsys fs.FS, dir string) (schema.Schema, error) {
	for _, name := range []string{SchemaFile, schemaYAML} {
		parsed, err := ReadSchema(fsys, dir, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return parsed, err
	}
	return schema.Schema{}, fmt.Errorf("%w in %q", ErrNoSchema, dir)
}

// Load reads a bundle rooted at dir.
func Load(fsys fs.FS, dir string) (Bundle, error) {
	manifest, err := ReadManifest(fsys, dir)
	if err != nil {
		return Bundle{}, err
	}
	if err := manifest.Validate(); err != nil {
		return Bundle{}, err
	}
	primary, err := ReadPrimary(fsys, dir)
	if err != nil {
		return Bundle{}, err
	}

	b := Bundle{
		Manifest:   manifest,
		Primary:    primary,
		Additional: make(map[string]schema.Schema),
	}
	mapping := primary.SchemaMap()
	seen := make(map[string]struct{})
	for _, trigger := range mapping.Triggers() {
		ref, _ := mapping.Lookup(trigger)
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		if err := CheckRef(ref); err != nil {
			return Bundle{}, err
		}
		secondary, err := ReadSchema(fsys, dir, ref)
		if errors.Is(err, fs.ErrNotExist) {
			b.Missing = append(b.Missing, ref)
			continue
		}
		if err != nil {
			return Bundle{}, err
		}
		b.Additional[ref] = secondary
	}
	sort.Strings(b.Missing)
	return b, nil
}

// CheckRef rejects schema references that would escape the bundle.
func CheckRef(ref string) error {
	if ref == "" {
		return errors.New("bundle: schema reference is empty")
	}
	if path.IsAbs(ref) || strings.Contains(ref, "\\") {
		return fmt.Errorf("bundle: schema reference %q must be relative", ref)
	}
	for _, segment := range strings.Split(ref, "/") {
		if segment == ".." {
			return fmt.Errorf("bundle: schema reference %q escapes the bundle", ref)
		}
	}
	return nil
}
