// Package models defines data structures shared by the build stages.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Variant links a product to one of its alternative versions.
type Variant struct {
	ProductID string `json:"productId" yaml:"productId"`
	Name      string `json:"name" yaml:"name"`
	Image     string `json:"image" yaml:"image"`
}

// UnmarshalJSON accepts numeric product ids and names.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var fields struct {
		ProductID looseString `json:"productId"`
		Name      looseString `json:"name"`
		Image     looseString `json:"image"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*v = Variant{ProductID: string(fields.ProductID), Name: string(fields.Name), Image: string(fields.Image)}
	return nil
}

// Product is a catalog entry as it travels through normalization and
// pagination. Keys the builder does not know about are kept in Extra and
// written back untouched.
type Product struct {
	ID          string
	Name        string
	Brand       string
	Path        string
	Images      []string
	Variants    []Variant
	Similar     []string
	Recommended []string
	Extra       map[string]json.RawMessage

	// present records the known keys the decoded input carried, so empty
	// values are written back instead of dropped.
	present map[string]struct{}
}

// knownKeys are decoded into typed fields.
var knownKeys = map[string]struct{}{
	"id":          {},
	"name":        {},
	"brand":       {},
	"path":        {},
	"images":      {},
	"variants":    {},
	"similar":     {},
	"recommended": {},
}

// StructuralKeys belong to the node, not the product metadata.
var StructuralKeys = map[string]struct{}{
	"type":      {},
	"children":  {},
	"isProduct": {},
}

type productFields struct {
	ID          looseString  `json:"id"`
	Name        looseString  `json:"name"`
	Brand       looseString  `json:"brand"`
	Path        looseString  `json:"path"`
	Images      looseStrings `json:"images"`
	Variants    []Variant    `json:"variants"`
	Similar     looseStrings `json:"similar"`
	Recommended looseStrings `json:"recommended"`
}

// looseString decodes a JSON string, number or boolean as text, so a numeric
// SKU keeps its literal digits.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '"':
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		*s = looseString(str)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*s = looseString(strconv.FormatBool(b))
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("expected a string, got %s", trimmed)
		}
		*s = looseString(n.String())
	}
	return nil
}

// looseStrings decodes a list of loose strings, or a single one as a list of
// one.
type looseStrings []string

func (l *looseStrings) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if trimmed[0] != '[' {
		var one looseString
		if err := one.UnmarshalJSON(trimmed); err != nil {
			return err
		}
		*l = looseStrings{string(one)}
		return nil
	}
	var items []looseString
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	out := make(looseStrings, len(items))
	for i, item := range items {
		out[i] = string(item)
	}
	*l = out
	return nil
}

// UnmarshalJSON decodes the known fields and keeps everything else.
func (p *Product) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("product must be an object")
	}

	var fields productFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*p = Product{
		ID:          string(fields.ID),
		Name:        string(fields.Name),
		Brand:       string(fields.Brand),
		Path:        string(fields.Path),
		Images:      []string(fields.Images),
		Variants:    fields.Variants,
		Similar:     []string(fields.Similar),
		Recommended: []string(fields.Recommended),
	}
	for key, value := range raw {
		if _, ok := knownKeys[key]; ok {
			if p.present == nil {
				p.present = make(map[string]struct{})
			}
			p.present[key] = struct{}{}
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[key] = value
	}
	return nil
}

func (p Product) has(key string) bool {
	_, ok := p.present[key]
	return ok
}

// MarshalJSON writes the product with keys in sorted order. Empty optional
// fields are omitted unless the decoded input carried them.
func (p Product) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+8)
	for key, value := range p.Extra {
		out[key] = value
	}

	set := func(key string, value any) error {
		encoded, err := MarshalNoEscape(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		out[key] = encoded
		return nil
	}

	if err := set("id", p.ID); err != nil {
		return nil, err
	}
	if err := set("name", p.Name); err != nil {
		return nil, err
	}
	if p.Brand != "" || p.has("brand") {
		if err := set("brand", p.Brand); err != nil {
			return nil, err
		}
	}
	if p.Path != "" || p.has("path") {
		if err := set("path", p.Path); err != nil {
			return nil, err
		}
	}
	if p.Images != nil || p.has("images") {
		if err := set("images", nonNil(p.Images)); err != nil {
			return nil, err
		}
	}
	if len(p.Variants) > 0 || p.has("variants") {
		variants := p.Variants
		if variants == nil {
			variants = []Variant{}
		}
		if err := set("variants", variants); err != nil {
			return nil, err
		}
	}
	if len(p.Similar) > 0 || p.has("similar") {
		if err := set("similar", nonNil(p.Similar)); err != nil {
			return nil, err
		}
	}
	if len(p.Recommended) > 0 || p.has("recommended") {
		if err := set("recommended", nonNil(p.Recommended)); err != nil {
			return nil, err
		}
	}

	return MarshalNoEscape(out)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Clone returns a deep copy so later stages never alias earlier ones.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Images = cloneStrings(p.Images)
	c.Similar = cloneStrings(p.Similar)
	c.Recommended = cloneStrings(p.Recommended)
	if p.Variants != nil {
		c.Variants = make([]Variant, len(p.Variants))
		copy(c.Variants, p.Variants)
	}
	if p.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(p.Extra))
		for k, v := range p.Extra {
			c.Extra[k] = v
		}
	}
	if p.present != nil {
		c.present = make(map[string]struct{}, len(p.present))
		for k := range p.present {
			c.present[k] = struct{}{}
		}
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Summary is the per-product record of the catalog index.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Brand       string    `json:"brand,omitempty"`
	Images      []string  `json:"images,omitempty"`
	Variants    []Variant `json:"variants,omitempty"`
	Similar     []string  `json:"similar,omitempty"`
	Recommended []string  `json:"recommended,omitempty"`
}

// CatalogIndex is written to data/manifest.json.
type CatalogIndex struct {
	Name          string    `json:"name"`
	TotalProducts int       `json:"totalProducts"`
	TotalPages    int       `json:"totalPages"`
	ItemsPerPage  int       `json:"itemsPerPage"`
	Products      []Summary `json:"products"`
}

// Page is a 1-indexed contiguous slice of the product list.
type Page struct {
	Number   int
	Products []*Product
}

// SourceManifest is the flat product list read by the clean and paginate
// stages.
type SourceManifest struct {
	Name     string     `json:"name"`
	Children []*Product `json:"children"`
}

// MarshalNoEscape encodes v like json.Marshal but leaves &, < and > as is,
// so query strings in image URLs stay readable.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
