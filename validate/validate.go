// Package validate checks products before they are published.
package validate

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/catalog-manifest/models"
)

// Product ensures a catalog entry carries the fields the front-end needs.
func Product(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("product %q missing id", p.Name)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product %s missing name", p.ID)
	}
	for i, v := range p.Variants {
		if strings.TrimSpace(v.ProductID) == "" {
			return fmt.Errorf("product %s variant %d missing productId", p.ID, i)
		}
	}
	return nil
}

// Reference is a cross-reference to an id no product in the catalog has.
type Reference struct {
	From   string
	Field  string
	Target string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s.%s -> %s", r.From, r.Field, r.Target)
}

// DanglingReferences lists variant, similar and recommended ids that do not
// resolve within products, in product order.
func DanglingReferences(products []*models.Product) []Reference {
	known := make(map[string]struct{}, len(products))
	for _, p := range products {
		if p != nil {
			known[p.ID] = struct{}{}
		}
	}

	var out []Reference
	check := func(from, field, target string) {
		if target == "" {
			return
		}
		if _, ok := known[target]; !ok {
			out = append(out, Reference{From: from, Field: field, Target: target})
		}
	}
	for _, p := range products {
		if p == nil {
			continue
		}
		for _, v := range p.Variants {
			check(p.ID, "variants", v.ProductID)
		}
		for _, id := range p.Similar {
			check(p.ID, "similar", id)
		}
		for _, id := range p.Recommended {
			check(p.ID, "recommended", id)
		}
	}
	return out
}
