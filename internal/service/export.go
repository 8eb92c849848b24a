package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jasonsaas/finhelm-flags/internal/core"
)

// ErrInvalidImport wraps every import failure, whether the document is
// malformed or a contained flag fails validation. Imports are atomic: on any
// error the registry is left untouched.
var ErrInvalidImport = errors.New("invalid import document")

// flagDocument is the portable serialization of a full flag set. Field names
// inside each flag follow the flag's own JSON encoding so exports round-trip.
type flagDocument struct {
	Flags []core.FeatureFlag `json:"flags"`
}

// ExportFlags serializes every stored flag into an indented JSON document
// suitable for backup and bulk administration.
func (e *Engine) ExportFlags() ([]byte, error) {
	doc := flagDocument{Flags: e.registry.ListAll()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export flags: %w", err)
	}
	return data, nil
}

// ImportFlags parses a document produced by [Engine.ExportFlags] and upserts
// every contained flag. Parsing, validation, and application are strictly
// sequential: a malformed document or any invalid flag fails the whole import
// before the registry is mutated.
func (e *Engine) ImportFlags(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	var doc flagDocument
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if doc.Flags == nil {
		return fmt.Errorf("%w: missing flags array", ErrInvalidImport)
	}

	now := e.now()
	for i := range doc.Flags {
		if doc.Flags[i].Metadata.CreatedAt.IsZero() {
			doc.Flags[i].Metadata.CreatedAt = now
		}
		doc.Flags[i].Metadata.UpdatedAt = now
	}

	if err := e.registry.AddAll(doc.Flags); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	e.log.Info("flags imported", "count", len(doc.Flags))
	e.notifyFlagCount()
	return nil
}
