// Package catalog loads the selectable parser names and their metadata.
//
// Two JSON documents describe a deployment: an array of names in display
// order, and an object mapping a name to auxiliary metadata (for the corpus
// variant, the database a corpus lives in). A Catalog is immutable once
// loaded.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	perrors "github.com/FocuswithJustin/parseweb/core/errors"
	"github.com/FocuswithJustin/parseweb/internal/validation"
)

// Catalog is the configured set of selections.
type Catalog struct {
	names    []string
	index    map[string]struct{}
	metadata map[string]string
	def      string
}

// New validates names and builds a Catalog. defaultName may be empty, in
// which case the first name is the default.
func New(names []string, metadata map[string]string, defaultName string) (*Catalog, error) {
	if len(names) == 0 {
		return nil, perrors.NewValidation("catalog", "at least one selection is required")
	}

	c := &Catalog{
		names:    make([]string, len(names)),
		index:    make(map[string]struct{}, len(names)),
		metadata: make(map[string]string, len(metadata)),
	}
	copy(c.names, names)

	for i, name := range names {
		if err := validation.ValidateFilename(name); err != nil {
			return nil, &perrors.ValidationError{
				Field:   fmt.Sprintf("catalog[%d]", i),
				Value:   name,
				Message: err.Error(),
				Err:     err,
			}
		}
		if _, dup := c.index[name]; dup {
			return nil, perrors.NewValidation(fmt.Sprintf("catalog[%d]", i), "duplicate selection "+name)
		}
		c.index[name] = struct{}{}
	}
	for k, v := range metadata {
		c.metadata[k] = v
	}

	switch {
	case defaultName == "":
		c.def = c.names[0]
	case c.Contains(defaultName):
		c.def = defaultName
	default:
		return nil, perrors.NewValidation("default", "default selection "+defaultName+" is not in the catalog")
	}

	return c, nil
}

// Load reads both catalog documents. An empty metadataPath yields empty
// metadata. Every failure is a *errors.ConfigLoadError.
func Load(metadataPath, listPath, defaultName string) (*Catalog, error) {
	names, err := LoadList(listPath)
	if err != nil {
		return nil, err
	}

	var metadata map[string]string
	if metadataPath != "" {
		metadata, err = LoadMetadata(metadataPath)
		if err != nil {
			return nil, err
		}
	}

	c, err := New(names, metadata, defaultName)
	if err != nil {
		return nil, perrors.NewConfigLoad(listPath, err)
	}
	return c, nil
}

// LoadList reads a JSON array of selection names.
func LoadList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.NewConfigLoad(path, perrors.NewIO("read", path, err))
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, perrors.NewConfigLoad(path, &perrors.ParseError{
			Format: "JSON", Path: path, Message: err.Error(), Err: err,
		})
	}
	return names, nil
}

// LoadMetadata reads a JSON object mapping names to metadata. String values
// are kept verbatim; any other value is kept as its compact JSON text.
func LoadMetadata(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.NewConfigLoad(path, perrors.NewIO("read", path, err))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, perrors.NewConfigLoad(path, &perrors.ParseError{
			Format: "JSON", Path: path, Message: err.Error(), Err: err,
		})
	}

	metadata := make(map[string]string, len(raw))
	for name, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			metadata[name] = s
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, value); err != nil {
			return nil, perrors.NewConfigLoad(path, &perrors.ParseError{
				Format: "JSON", Path: path, Message: err.Error(), Err: err,
			})
		}
		metadata[name] = buf.String()
	}
	return metadata, nil
}

// Names returns the selections in display order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Contains reports whether name is a configured selection.
func (c *Catalog) Contains(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Metadata returns the metadata text for name, or "" when there is none.
func (c *Catalog) Metadata(name string) string {
	return c.metadata[name]
}

// Default returns the selection used when none is requested.
func (c *Catalog) Default() string {
	return c.def
}

// Len returns the number of selections.
func (c *Catalog) Len() int {
	return len(c.names)
}
