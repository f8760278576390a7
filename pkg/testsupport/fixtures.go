// Package testsupport holds the backup-configuration fixtures shared by
// package tests: a primary schema whose action field selects a backup or
// restore schema.
package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/schema"
)

const (
	// ItemID and Version identify the fixture catalog item.
	ItemID  = "backup-config"
	Version = "1.0.0"

	// PrimaryJSON requires client and maps action to the additional schemas.
	PrimaryJSON = `{
  "title": "Backup configuration",
  "type": "object",
  "required": ["client"],
  "properties": {
    "client": { "type": "string" },
    "action": { "type": "string", "enum": ["backup", "restore"] }
  },
  "x-schema-map": {
    "backup": "backup.json",
    "restore": "restore.json"
  }
}`

	// BackupJSON requires an IPv4 device_ip.
	BackupJSON = `{
  "type": "object",
  "required": ["device_ip"],
  "properties": { "device_ip": { "type": "string", "format": "ipv4" } }
}`

	// RestoreJSON requires snapshot.
	RestoreJSON = `{
  "type": "object",
  "required": ["snapshot"],
  "properties": { "snapshot": { "type": "string" } }
}`
)

// Schemas returns the additional schemas keyed by ref.
func Schemas() map[string]schema.Schema {
	return map[string]schema.Schema{
		"backup.json":  schema.MustParse(BackupJSON),
		"restore.json": schema.MustParse(RestoreJSON),
	}
}

// Descriptor builds the fixture descriptor. Every call returns a new
// instance.
func Descriptor(t *testing.T) *resolver.Descriptor {
	t.Helper()

	desc, err := resolver.NewDescriptor(ItemID, Version, schema.MustParse(PrimaryJSON))
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	return desc
}

// MapFetcher serves schemas by ref and fails for unknown refs.
func MapFetcher(schemas map[string]schema.Schema) resolver.Fetcher {
	return resolver.FetcherFunc(func(_ context.Context, itemID, version, ref string) (schema.Schema, error) {
		s, ok := schemas[ref]
		if !ok {
			return schema.Schema{}, fmt.Errorf("testsupport: schema %q not found for %s@%s", ref, itemID, version)
		}
		return s, nil
	})
}

// WriteBundle writes the fixture as a bundle directory (manifest.yaml,
// schema.json and the additional schemas) under root/name and returns its
// path.
func WriteBundle(t *testing.T, root, name string) string {
	t.Helper()

	dir := filepath.Join(root, name)
	files := map[string]string{
		"manifest.yaml": "id: " + ItemID + "\nname: Backup\nversion: " + Version + "\nentrypoint: run.yml\n",
		"schema.json":   PrimaryJSON,
		"backup.json":   BackupJSON,
		"restore.json":  RestoreJSON,
	}
	writeFiles(t, dir, files)
	return dir
}

// WriteCatalog writes the fixture as a catalog tree laid out as
// {item}/{version}/{ref} and returns its root.
func WriteCatalog(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	writeFiles(t, filepath.Join(root, ItemID, Version), map[string]string{
		"schema.json":  PrimaryJSON,
		"backup.json":  BackupJSON,
		"restore.json": RestoreJSON,
	})
	return root
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}
