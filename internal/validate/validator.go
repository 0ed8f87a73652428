// Package validate checks raw snapshot artifacts against the minimum snapshot
// contract. Validation is structural: it never judges KPI values.
package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"controlroom/internal/snapshot"
)

//go:embed snapshot.schema.json
var snapshotSchema []byte

const schemaURL = "https://controlroom.local/schemas/snapshot.json"

// ValidatedArtifact is a decoded artifact that satisfies the contract.
// Numbers are kept as json.Number.
type ValidatedArtifact struct {
	Ref    snapshot.SourceRef
	Fields map[string]any
}

func (a *ValidatedArtifact) String(key string) string {
	if a == nil {
		return ""
	}
	s, _ := a.Fields[key].(string)
	return s
}

func (a *ValidatedArtifact) Object(key string) map[string]any {
	if a == nil {
		return nil
	}
	m, _ := a.Fields[key].(map[string]any)
	return m
}

type Validator struct {
	schema *jsonschema.Schema
}

func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(snapshotSchema)); err != nil {
		return nil, fmt.Errorf("load snapshot schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// MustNew is New for callers that embed the validator at init time.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate decodes raw and checks it against the snapshot contract. Every
// failure, including empty or truncated input, is a *snapshot.SchemaError.
func (v *Validator) Validate(raw []byte, ref snapshot.SourceRef) (*ValidatedArtifact, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, schemaErr(ref, "empty artifact", raw)
	}
	doc, err := decode(raw)
	if err != nil {
		return nil, schemaErr(ref, "invalid json: "+err.Error(), raw)
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, schemaErr(ref, describe(err), raw)
	}
	fields, ok := doc.(map[string]any)
	if !ok {
		return nil, schemaErr(ref, "artifact is not a json object", raw)
	}
	return &ValidatedArtifact{Ref: ref, Fields: fields}, nil
}

// decode parses exactly one JSON document, keeping numbers as json.Number.
func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return doc, nil
}

func schemaErr(ref snapshot.SourceRef, reason string, raw []byte) *snapshot.SchemaError {
	return &snapshot.SchemaError{Ref: ref, Reason: reason, RawExcerpt: snapshot.Excerpt(raw)}
}

// describe reduces a validation error tree to its leaf messages.
func describe(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaves := make([]string, 0, 4)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(leaves, "; ")
}
