package paginator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/catalog-manifest/models"
)

const (
	driveHost          = "drive.google.com"
	driveIDParam       = "id"
	driveThumbnailBase = "https://drive.google.com/thumbnail"
)

// DefaultThumbnailSize is the width the catalog pages render at.
const DefaultThumbnailSize = "w1000"

// DriveFileID extracts the file id from a Google Drive sharing URL. Anything
// else yields ErrUnrecognizedImageSource.
func DriveFileID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", models.ErrUnrecognizedImageSource{URL: raw, Err: err}
	}
	if !strings.EqualFold(u.Hostname(), driveHost) {
		return "", models.ErrUnrecognizedImageSource{URL: raw, Err: fmt.Errorf("host %q", u.Hostname())}
	}
	id := u.Query().Get(driveIDParam)
	if id == "" {
		return "", models.ErrUnrecognizedImageSource{URL: raw, Err: fmt.Errorf("missing %s parameter", driveIDParam)}
	}
	return id, nil
}

// ImageRewriter turns Drive sharing links into direct thumbnail links.
type ImageRewriter struct {
	size      string
	rewritten int
}

// NewImageRewriter returns a rewriter targeting the given thumbnail size
// (e.g. w1000).
func NewImageRewriter(size string) *ImageRewriter {
	if size == "" {
		size = DefaultThumbnailSize
	}
	return &ImageRewriter{size: size}
}

// RewriteURL returns the thumbnail form of a Drive link, or raw unchanged.
func (r *ImageRewriter) RewriteURL(raw string) string {
	id, err := DriveFileID(raw)
	if err != nil {
		return raw
	}
	rewritten := driveThumbnailBase + "?id=" + url.QueryEscape(id) + "&sz=" + r.size
	if rewritten != raw {
		r.rewritten++
	}
	return rewritten
}

// Rewrite returns copies of products with product and variant images
// rewritten.
func (r *ImageRewriter) Rewrite(products []*models.Product) []*models.Product {
	out := make([]*models.Product, 0, len(products))
	for _, product := range products {
		c := product.Clone()
		for i, image := range c.Images {
			c.Images[i] = r.RewriteURL(image)
		}
		for i := range c.Variants {
			c.Variants[i].Image = r.RewriteURL(c.Variants[i].Image)
		}
		out = append(out, c)
	}
	return out
}

// Rewritten reports how many URLs were changed so far.
func (r *ImageRewriter) Rewritten() int {
	return r.rewritten
}
