// Package paginator splits the normalized product list into pages and
// projects the catalog index.
package paginator

import (
	"fmt"

	"github.com/aluiziolira/catalog-manifest/models"
)

// TotalPages returns ceil(total / pageSize).
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Paginate splits products into contiguous pages numbered from 1. Only the
// last page may be short.
func Paginate(products []*models.Product, pageSize int) ([]models.Page, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	pages := make([]models.Page, 0, TotalPages(len(products), pageSize))
	for start := 0; start < len(products); start += pageSize {
		end := min(start+pageSize, len(products))
		pages = append(pages, models.Page{
			Number:   len(pages) + 1,
			Products: products[start:end:end],
		})
	}
	return pages, nil
}

// BuildIndex projects each product onto its summary fields and adds the
// catalog-wide counts.
func BuildIndex(name string, products []*models.Product, pageSize int) models.CatalogIndex {
	summaries := make([]models.Summary, 0, len(products))
	for _, p := range products {
		summaries = append(summaries, Summarize(p))
	}
	return models.CatalogIndex{
		Name:          name,
		TotalProducts: len(products),
		TotalPages:    TotalPages(len(products), pageSize),
		ItemsPerPage:  pageSize,
		Products:      summaries,
	}
}

// Summarize keeps only the fields the front-end needs to resolve links.
func Summarize(p *models.Product) models.Summary {
	c := p.Clone()
	return models.Summary{
		ID:          c.ID,
		Name:        c.Name,
		Brand:       c.Brand,
		Images:      c.Images,
		Variants:    c.Variants,
		Similar:     c.Similar,
		Recommended: c.Recommended,
	}
}
