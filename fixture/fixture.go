// Package fixture loads class hierarchies and dispatch checks from YAML or
// CUE documents and runs them against a runtime.
package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Document is a complete fixture: the hierarchy to build and the checks to
// run against it.
type Document struct {
	// Name identifies the fixture in reports.
	Name string `yaml:"name" json:"name"`

	// Classes are applied in order; a superclass, outer scope or included
	// module must appear before its first use.
	Classes []ClassDef `yaml:"classes" json:"classes"`

	Checks []Check `yaml:"checks,omitempty" json:"checks,omitempty"`
}

// ClassDef describes a class or module.
type ClassDef struct {
	Name       string         `yaml:"name" json:"name"`
	Module     bool           `yaml:"module,omitempty" json:"module,omitempty"`
	Superclass string         `yaml:"superclass,omitempty" json:"superclass,omitempty"`
	Outer      string         `yaml:"outer,omitempty" json:"outer,omitempty"`
	Include    []string       `yaml:"include,omitempty" json:"include,omitempty"`
	Prepend    []string       `yaml:"prepend,omitempty" json:"prepend,omitempty"`
	Constants  map[string]any `yaml:"constants,omitempty" json:"constants,omitempty"`
	Attrs      []AttrDef      `yaml:"attrs,omitempty" json:"attrs,omitempty"`
	Methods    []MethodDef    `yaml:"methods,omitempty" json:"methods,omitempty"`

	// Aliases maps new names to existing ones.
	Aliases map[string]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Undef   []string          `yaml:"undef,omitempty" json:"undef,omitempty"`
	Remove  []string          `yaml:"remove,omitempty" json:"remove,omitempty"`
}

// AttrDef declares an attribute reader and/or writer.
type AttrDef struct {
	Name   string `yaml:"name" json:"name"`
	Reader bool   `yaml:"reader,omitempty" json:"reader,omitempty"`
	Writer bool   `yaml:"writer,omitempty" json:"writer,omitempty"`
}

// MethodDef is a method body in the program language understood by the
// compiler package.
type MethodDef struct {
	Name       string `yaml:"name" json:"name"`
	Body       string `yaml:"body" json:"body"`
	Visibility string `yaml:"visibility,omitempty" json:"visibility,omitempty"`
	// Singleton defines the method on the class's metaclass.
	Singleton bool `yaml:"singleton,omitempty" json:"singleton,omitempty"`
	// Eager compiles the body while applying instead of at first call.
	Eager bool `yaml:"eager,omitempty" json:"eager,omitempty"`
}

// Check sends one message and compares the outcome.
type Check struct {
	Name string `yaml:"name" json:"name"`

	// Receiver is a constant path, "main" for the top-level object, or
	// empty for nil.
	Receiver string `yaml:"receiver,omitempty" json:"receiver,omitempty"`
	// New sends new (with NewArgs) to the receiver first and uses the
	// instance.
	New     bool  `yaml:"new,omitempty" json:"new,omitempty"`
	NewArgs []any `yaml:"new_args,omitempty" json:"new_args,omitempty"`

	Send string `yaml:"send" json:"send"`
	Args []any  `yaml:"args,omitempty" json:"args,omitempty"`
	// Functional makes an implicit-receiver call that may reach private
	// methods.
	Functional bool `yaml:"functional,omitempty" json:"functional,omitempty"`

	Expect any `yaml:"expect,omitempty" json:"expect,omitempty"`
	// Raises names the exception class expected instead of a value.
	Raises string `yaml:"raises,omitempty" json:"raises,omitempty"`
	// Message, when set, must be contained in the raised message.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Load reads a fixture, choosing the decoder by file extension: .yaml and
// .yml for YAML, .cue for CUE.
func Load(path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", ".cue":
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var doc *Document
	if ext == ".cue" {
		doc, err = DecodeCUE(data, path)
	} else {
		doc, err = DecodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}

// DecodeYAML parses a YAML fixture. Unknown fields are rejected.
func DecodeYAML(data []byte) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &doc, nil
}

// DecodeCUE evaluates a CUE fixture. The value must be concrete.
func DecodeCUE(data []byte, filename string) (*Document, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating CUE value: %w", err)
	}
	var doc Document
	if err := v.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding CUE value: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &doc, nil
}

// Validate checks required fields.
func (d *Document) Validate() error {
	var errs []error
	for i, k := range d.Classes {
		if k.Name == "" {
			errs = append(errs, fmt.Errorf("classes[%d]: name is required", i))
			continue
		}
		if k.Module && k.Superclass != "" {
			errs = append(errs, fmt.Errorf("module %s cannot have a superclass", k.Name))
		}
		for j, m := range k.Methods {
			if m.Name == "" {
				errs = append(errs, fmt.Errorf("%s.methods[%d]: name is required", k.Name, j))
			}
		}
	}
	for i, c := range d.Checks {
		if c.Send == "" {
			errs = append(errs, fmt.Errorf("checks[%d]: send is required", i))
		}
	}
	return errors.Join(errs...)
}
