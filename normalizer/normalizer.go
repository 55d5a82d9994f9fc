package normalizer

import (
	"log/slog"

	"github.com/aluiziolira/catalog-manifest/models"
)

// FallbackSlug is used when neither the name nor the raw id yields a slug.
const FallbackSlug = "product"

// Normalizer assigns cleaned names and unique ids to a product list.
type Normalizer struct {
	slugger *Slugger
}

// New builds a normalizer backed by slugger. A nil slugger slugifies
// without caching.
func New(slugger *Slugger) *Normalizer {
	return &Normalizer{slugger: slugger}
}

// Result is the output of one normalization pass.
type Result struct {
	Products   []*models.Product
	Collisions int
	// Relinked counts references rewritten from a raw id to its slug.
	Relinked int
}

// Normalize processes products in order and returns copies with id and name
// replaced. References to another product's raw id follow it to the new id
// when that raw id belongs to exactly one product. The input slice is not
// modified.
func (n *Normalizer) Normalize(products []*models.Product) Result {
	resolver := NewIDResolver()
	out := make([]*models.Product, 0, len(products))
	rawIDs := make(map[string]int, len(products))
	renamed := make(map[string]string, len(products))

	for _, product := range products {
		if product == nil {
			continue
		}
		normalized := product.Clone()
		normalized.Name = CleanDisplayName(product.Name)
		base := n.baseSlug(normalized.Name, product.ID)
		normalized.ID = resolver.Resolve(base)
		if normalized.ID != base {
			slog.Debug("resolved id collision",
				slog.String("base", base),
				slog.String("id", normalized.ID),
			)
		}
		if product.ID != "" {
			rawIDs[product.ID]++
			renamed[product.ID] = normalized.ID
		}
		out = append(out, normalized)
	}

	resolved := make(map[string]struct{}, len(out))
	for _, product := range out {
		resolved[product.ID] = struct{}{}
	}
	relink := func(ref string) (string, bool) {
		if _, ok := resolved[ref]; ok {
			return ref, false
		}
		if rawIDs[ref] != 1 {
			return ref, false
		}
		return renamed[ref], true
	}

	relinked := 0
	for _, product := range out {
		for _, refs := range [][]string{product.Similar, product.Recommended} {
			for i, ref := range refs {
				if id, ok := relink(ref); ok {
					refs[i] = id
					relinked++
				}
			}
		}
		for i := range product.Variants {
			if id, ok := relink(product.Variants[i].ProductID); ok {
				product.Variants[i].ProductID = id
				relinked++
			}
		}
	}

	slog.Debug("normalization pass done",
		slog.Int("products", len(out)),
		slog.Int("relinked", relinked),
		slog.Int("slug_cache_entries", n.slugger.Len()),
	)
	return Result{Products: out, Collisions: resolver.Collisions(), Relinked: relinked}
}

func (n *Normalizer) baseSlug(cleanName, rawID string) string {
	if slug := n.slugger.Slug(cleanName); slug != "" {
		return slug
	}
	if slug := n.slugger.Slug(rawID); slug != "" {
		return slug
	}
	return FallbackSlug
}
