package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/aluiziolira/catalog-manifest/models"
)

// Source is a flat manifest: a catalog name plus the product list under
// "children". Other top-level keys are kept so a cleaned manifest can be
// written back without losing them.
type Source struct {
	Name     string
	Products []*models.Product
	// Skipped holds one error per entry that could not be decoded.
	Skipped []error

	fields map[string]json.RawMessage
	// rejected maps an entry's position in the source list to its raw bytes.
	rejected map[int]json.RawMessage
}

// ReadSource loads and decodes a source manifest file.
func ReadSource(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.ErrFileSystem{Op: "read", Path: path, Err: err}
	}
	return DecodeSource(data)
}

// DecodeSource decodes a source manifest. A missing or non-array product
// list, or an entry that is not an object, is an ErrInvalidManifestShape.
// An object whose fields cannot be decoded is skipped and reported in
// Skipped.
func DecodeSource(data []byte) (*Source, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, models.ErrInvalidManifestShape{Reason: fmt.Sprintf("manifest is not a JSON object: %v", err)}
	}
	if fields == nil {
		return nil, models.ErrInvalidManifestShape{Reason: "manifest is null"}
	}

	rawChildren, ok := fields["children"]
	trimmed := bytes.TrimSpace(rawChildren)
	if !ok || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, models.ErrInvalidManifestShape{Reason: "children is missing"}
	}
	if trimmed[0] != '[' {
		return nil, models.ErrInvalidManifestShape{Reason: "children is not an array"}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, models.ErrInvalidManifestShape{Reason: fmt.Sprintf("invalid children: %v", err)}
	}

	src := &Source{fields: fields}
	for i, entry := range entries {
		entry = bytes.TrimSpace(entry)
		if len(entry) == 0 || entry[0] != '{' {
			return nil, models.ErrInvalidManifestShape{Reason: fmt.Sprintf("product %d is not an object", i)}
		}
		var product models.Product
		if err := json.Unmarshal(entry, &product); err != nil {
			if src.rejected == nil {
				src.rejected = make(map[int]json.RawMessage)
			}
			src.rejected[i] = entry
			src.Skipped = append(src.Skipped, fmt.Errorf("product %d: %w", i, err))
			slog.Warn("skipping undecodable product", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		src.Products = append(src.Products, &product)
	}
	if src.Products == nil {
		src.Products = []*models.Product{}
	}

	var name string
	if raw, ok := fields["name"]; ok {
		// A non-string name is tolerated and treated as absent.
		_ = json.Unmarshal(raw, &name)
	}

	src.Name = name
	return src, nil
}

// MarshalJSON writes the manifest with its current products.
func (s *Source) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.fields)+2)
	for key, value := range s.fields {
		out[key] = value
	}

	children, err := models.MarshalNoEscape(s.children())
	if err != nil {
		return nil, fmt.Errorf("encode children: %w", err)
	}
	out["children"] = children

	if s.Name != "" {
		name, err := models.MarshalNoEscape(s.Name)
		if err != nil {
			return nil, fmt.Errorf("encode name: %w", err)
		}
		out["name"] = name
	}

	return models.MarshalNoEscape(out)
}

// children interleaves the current products with the rejected entries at
// their original positions.
func (s *Source) children() []any {
	positions := make([]int, 0, len(s.rejected))
	for pos := range s.rejected {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	out := make([]any, 0, len(s.Products)+len(s.rejected))
	next := 0
	for _, pos := range positions {
		for len(out) < pos && next < len(s.Products) {
			out = append(out, s.Products[next])
			next++
		}
		out = append(out, s.rejected[pos])
	}
	for _, p := range s.Products[next:] {
		out = append(out, p)
	}
	return out
}
