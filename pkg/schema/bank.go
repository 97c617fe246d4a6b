// Copyright 2025 Certen Protocol
//
// Package schema compiles and runs the JSON Schema validators that gate
// every inbound wire message before it touches persistence (spec.md §4.1).
// Schemas are embedded documents, one per message type, compiled once at
// process start into an immutable Bank shared by every request.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/negotiation/*.json schemas/transfer/*.json
var schemaFS embed.FS

// Violation is a single schema failure, rendered verbatim in the error
// envelope's reason list (spec.md §4.1, §7).
type Violation struct {
	Pointer     string `json:"pointer"`
	Description string `json:"description"`
}

// Bank holds one compiled validator per message type.
type Bank struct {
	validators map[string]*jsonschema.Schema
}

// NewBank compiles every embedded schema document into a Bank. It panics on
// a malformed schema document, since that can only be a packaging defect
// caught at startup, never a runtime condition.
func NewBank() *Bank {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		panic(fmt.Sprintf("schema: cannot read embedded schemas: %v", err))
	}

	b := &Bank{validators: make(map[string]*jsonschema.Schema)}
	for _, engineDir := range entries {
		if !engineDir.IsDir() {
			continue
		}
		files, err := schemaFS.ReadDir("schemas/" + engineDir.Name())
		if err != nil {
			panic(fmt.Sprintf("schema: cannot read %s: %v", engineDir.Name(), err))
		}
		for _, f := range files {
			path := "schemas/" + engineDir.Name() + "/" + f.Name()
			raw, err := schemaFS.ReadFile(path)
			if err != nil {
				panic(fmt.Sprintf("schema: cannot read %s: %v", path, err))
			}
			if err := compiler.AddResource(path, bytes.NewReader(raw)); err != nil {
				panic(fmt.Sprintf("schema: cannot add %s: %v", path, err))
			}
			msgType := messageTypeFromFile(f.Name())
			compiled, err := compiler.Compile(path)
			if err != nil {
				panic(fmt.Sprintf("schema: cannot compile %s: %v", path, err))
			}
			b.validators[msgType] = compiled
		}
	}
	return b
}

func messageTypeFromFile(name string) string {
	if len(name) > len(".json") {
		return name[:len(name)-len(".json")]
	}
	return name
}

// Validate checks raw against the compiled schema for msgType. A missing
// schema for msgType is itself a Violation rather than a panic, since an
// unrecognized @type is a caller error, not a packaging defect.
func (b *Bank) Validate(msgType string, raw []byte) []Violation {
	s, ok := b.validators[msgType]
	if !ok {
		return []Violation{{Pointer: "/@type", Description: fmt.Sprintf("unrecognized message type %q", msgType)}}
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []Violation{{Pointer: "", Description: fmt.Sprintf("invalid JSON: %v", err)}}
	}

	if err := s.Validate(doc); err != nil {
		return violationsFromError(err)
	}
	return nil
}

func violationsFromError(err error) []Violation {
	valErr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Violation{{Pointer: "", Description: err.Error()}}
	}

	var out []Violation
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, missingPropertyViolations(e)...)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(valErr)
	return out
}

var missingPropertyPattern = regexp.MustCompile(`missing propert(?:y|ies): (.+)`)
var quotedName = regexp.MustCompile(`'([^']+)'`)

// missingPropertyViolations turns jsonschema's "missing properties: 'x', 'y'"
// message, reported at the containing object's InstanceLocation, into one
// violation per property pointing at its own location (spec.md §7, e.g. a
// violation for a required offer field points at "/offer").
func missingPropertyViolations(e *jsonschema.ValidationError) []Violation {
	m := missingPropertyPattern.FindStringSubmatch(e.Message)
	if m == nil {
		return []Violation{{Pointer: e.InstanceLocation, Description: e.Message}}
	}

	names := quotedName.FindAllStringSubmatch(m[1], -1)
	if len(names) == 0 {
		return []Violation{{Pointer: e.InstanceLocation, Description: e.Message}}
	}

	out := make([]Violation, 0, len(names))
	for _, n := range names {
		out = append(out, Violation{
			Pointer:     strings.TrimSuffix(e.InstanceLocation, "/") + "/" + n[1],
			Description: fmt.Sprintf("%q is required", n[1]),
		})
	}
	return out
}
