// Package crawler turns an image directory tree into a catalog node tree.
package crawler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/catalog-manifest/models"
)

// Options controls what the crawler emits.
type Options struct {
	SidecarNames []string
	SkipHidden   bool
	PathPrefix   string
	ImagePrefix  string
}

// Crawler walks a directory tree depth-first. It only reads the file system.
type Crawler struct {
	opts     Options
	sidecars map[string]struct{}
	warnings []error
}

// New builds a crawler. The first entry of SidecarNames present in a folder
// is used as that folder's metadata.
func New(opts Options) *Crawler {
	sidecars := make(map[string]struct{}, len(opts.SidecarNames))
	for _, name := range opts.SidecarNames {
		sidecars[name] = struct{}{}
	}
	opts.PathPrefix = strings.Trim(filepath.ToSlash(opts.PathPrefix), "/")
	return &Crawler{opts: opts, sidecars: sidecars}
}

// Crawl walks root and returns the node arena. Malformed sidecars are
// reported through Warnings and never abort the walk; I/O failures do.
func (c *Crawler) Crawl(root string) (*models.Tree, error) {
	c.warnings = nil

	info, err := os.Lstat(root)
	if err != nil {
		return nil, models.ErrFileSystem{Op: "stat", Path: root, Err: err}
	}

	tree := &models.Tree{}
	name := filepath.Base(filepath.Clean(root))
	if !info.IsDir() {
		tree.Add(models.Node{Path: c.displayPath(""), Name: name, Kind: models.KindFile, Parent: models.NoParent})
		return tree, nil
	}
	if err := c.walkDir(tree, root, "", name, models.NoParent); err != nil {
		return nil, err
	}
	return tree, nil
}

// Warnings returns the per-item errors collected by the last Crawl.
func (c *Crawler) Warnings() []error {
	out := make([]error, len(c.warnings))
	copy(out, c.warnings)
	return out
}

func (c *Crawler) walkDir(tree *models.Tree, dir, rel, name string, parent int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return models.ErrFileSystem{Op: "readdir", Path: dir, Err: err}
	}

	node := models.Node{
		Path:   c.displayPath(rel),
		Name:   name,
		Kind:   models.KindFolder,
		Parent: parent,
	}

	product, err := c.loadSidecar(dir, entries)
	if err != nil {
		var malformed models.ErrMalformedSidecar
		if !errors.As(err, &malformed) {
			return err
		}
		slog.Warn("skipping malformed sidecar",
			slog.String("path", malformed.Path),
			slog.Any("error", malformed.Err),
		)
		c.warnings = append(c.warnings, err)
	}
	if product != nil {
		c.mergeProduct(&node, product)
	}

	idx := tree.Add(node)

	for _, entry := range entries {
		entryName := entry.Name()
		if _, ok := c.sidecars[entryName]; ok {
			continue
		}
		if c.opts.SkipHidden && strings.HasPrefix(entryName, ".") {
			continue
		}

		childRel := path.Join(rel, entryName)
		if entry.IsDir() {
			if err := c.walkDir(tree, filepath.Join(dir, entryName), childRel, entryName, idx); err != nil {
				return err
			}
			continue
		}

		// Symlinks are not followed; they show up as plain files.
		tree.Add(models.Node{
			Path:   c.displayPath(childRel),
			Name:   entryName,
			Kind:   models.KindFile,
			Parent: idx,
		})
	}
	return nil
}

func (c *Crawler) loadSidecar(dir string, entries []fs.DirEntry) (*models.Product, error) {
	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			present[entry.Name()] = true
		}
	}

	for _, name := range c.opts.SidecarNames {
		if !present[name] {
			continue
		}
		sidecarPath := filepath.Join(dir, name)
		data, err := os.ReadFile(sidecarPath)
		if err != nil {
			return nil, models.ErrFileSystem{Op: "read", Path: sidecarPath, Err: err}
		}
		product, err := decodeSidecar(name, data)
		if err != nil {
			return nil, models.ErrMalformedSidecar{Path: sidecarPath, Err: err}
		}
		return product, nil
	}
	return nil, nil
}

// mergeProduct lays sidecar metadata onto a folder node. Path, kind and
// children always come from the file system.
func (c *Crawler) mergeProduct(node *models.Node, product *models.Product) {
	if strings.TrimSpace(product.ID) == "" {
		product.ID = node.Name
	}
	if strings.TrimSpace(product.Name) == "" {
		product.Name = node.Name
	}
	product.Path = node.Path

	if c.opts.ImagePrefix != "" {
		for i, image := range product.Images {
			product.Images[i] = c.resolveImage(node.Path, image)
		}
		for i := range product.Variants {
			product.Variants[i].Image = c.resolveImage(node.Path, product.Variants[i].Image)
		}
	}

	node.Name = product.Name
	node.IsProduct = true
	node.Product = product
}

func (c *Crawler) resolveImage(nodePath, image string) string {
	if !isRelativeReference(image) {
		return image
	}
	prefix := strings.TrimRight(c.opts.ImagePrefix, "/")
	return prefix + "/" + path.Join(nodePath, image)
}

func (c *Crawler) displayPath(rel string) string {
	joined := path.Join(c.opts.PathPrefix, rel)
	if joined == "" {
		return "."
	}
	return joined
}

func isRelativeReference(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "/") {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
