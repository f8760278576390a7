package bundle_test

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-catalogform/internal/bundle"
)

const manifestYAML = `id: backup-config
name: Backup configuration
version: 1.0.0
entrypoint: tasks/backup.yml
tags: [network]
`

const primaryJSON = `{
  "type": "object",
  "required": ["client"],
  "properties": {
    "client": { "type": "string" },
    "action": { "type": "string" }
  },
  "x-schema-map": {
    "backup": "backup.json",
    "restore": "restore.yaml",
    "audit": "audit.json"
  }
}`

func catalogFS() fstest.MapFS {
	return fstest.MapFS{
		"backup-config/manifest.yaml": {Data: []byte(manifestYAML)},
		"backup-config/schema.json":   {Data: []byte(primaryJSON)},
		"backup-config/backup.json": {Data: []byte(`{
  "type": "object",
  "required": ["device_ip"],
  "properties": { "device_ip": { "type": "string" } }
}`)},
		"backup-config/restore.yaml": {Data: []byte(`type: object
required: [snapshot]
properties:
  snapshot:
    type: string
`)},
	}
}

func TestLoad(t *testing.T) {
	b, err := bundle.Load(catalogFS(), "backup-config")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := bundle.Manifest{
		ID:         "backup-config",
		Name:       "Backup configuration",
		Version:    "1.0.0",
		Entrypoint: "tasks/backup.yml",
		Tags:       []string{"network"},
	}
	if diff := cmp.Diff(want, b.Manifest); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"client"}, b.Primary.Required()); diff != "" {
		t.Fatalf("primary required mismatch (-want +got):\n%s", diff)
	}
	if len(b.Additional) != 2 {
		t.Fatalf("expected two additional schemas, got %d", len(b.Additional))
	}
	if !b.Additional["restore.yaml"].IsRequired("snapshot") {
		t.Fatalf("yaml secondary schema not parsed")
	}
	if diff := cmp.Diff([]string{"audit.json"}, b.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_InvalidManifest(t *testing.T) {
	files := catalogFS()
	files["backup-config/manifest.yaml"] = &fstest.MapFile{Data: []byte("id: backup-config\n")}

	_, err := bundle.Load(files, "backup-config")
	if err == nil {
		t.Fatalf("expected manifest validation error")
	}
}

func TestReadPrimary_Missing(t *testing.T) {
	_, err := bundle.ReadPrimary(fstest.MapFS{}, "nothing")
	if !errors.Is(err, bundle.ErrNoSchema) {
		t.Fatalf("expected ErrNoSchema, got %v", err)
	}
	_, err = bundle.ReadManifest(fstest.MapFS{}, "nothing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

func TestCheckRef(t *testing.T) {
	for _, ref := range []string{"", "/etc/passwd", "../other/schema.json", "a/../../b.json", `dir\file.json`} {
		if err := bundle.CheckRef(ref); err == nil {
			t.Fatalf("CheckRef(%q) should fail", ref)
		}
	}
	for _, ref := range []string{"backup.json", "forms/restore.yaml"} {
		if err := bundle.CheckRef(ref); err != nil {
			t.Fatalf("CheckRef(%q) = %v", ref, err)
		}
	}
}

func TestLoad_InlinesRefsBetweenBundleFiles(t *testing.T) {
	files := catalogFS()
	files["backup-config/common.json"] = &fstest.MapFile{Data: []byte(`{"definitions":{"ip":{"type":"string","format":"ipv4"}}}`)}
	files["backup-config/backup.json"] = &fstest.MapFile{Data: []byte(`{
  "type": "object",
  "required": ["device_ip"],
  "properties": { "device_ip": { "$ref": "common.json#/definitions/ip" } }
}`)}

	b, err := bundle.Load(files, "backup-config")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ip, ok := b.Additional["backup.json"].Property("device_ip")
	if !ok || ip.Format != "ipv4" {
		t.Fatalf("device_ip not inlined: %+v", ip)
	}
	if strings.Contains(string(b.Additional["backup.json"].Raw()), "$ref") {
		t.Fatalf("stored payload still carries refs: %s", b.Additional["backup.json"].Raw())
	}
}
