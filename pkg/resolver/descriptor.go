package resolver

import (
	"errors"
	"strings"

	"github.com/goliatone/go-catalogform/pkg/schema"
)

// Descriptor scopes one configuration session: a catalog item, its version
// and its primary schema. Descriptors are immutable; every new instance
// invalidates resolver and buffer state, even when its fields are equal to
// the previous one.
type Descriptor struct {
	itemID  string
	version string
	primary schema.Schema
}

// NewDescriptor validates and builds a descriptor.
func NewDescriptor(itemID, version string, primary schema.Schema) (*Descriptor, error) {
	itemID = strings.TrimSpace(itemID)
	version = strings.TrimSpace(version)
	if itemID == "" {
		return nil, errors.New("descriptor: item id is required")
	}
	if version == "" {
		return nil, errors.New("descriptor: version is required")
	}
	if primary.IsZero() {
		return nil, errors.New("descriptor: primary schema is required")
	}
	return &Descriptor{itemID: itemID, version: version, primary: primary}, nil
}

// ItemID returns the catalog item identifier.
func (d *Descriptor) ItemID() string { return d.itemID }

// Version returns the catalog item version.
func (d *Descriptor) Version() string { return d.version }

// Primary returns the primary schema.
func (d *Descriptor) Primary() schema.Schema { return d.primary }
