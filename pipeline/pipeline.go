// Package pipeline runs the catalog build stages and persists their output.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/catalog-manifest/config"
	"github.com/aluiziolira/catalog-manifest/crawler"
	"github.com/aluiziolira/catalog-manifest/models"
	"github.com/aluiziolira/catalog-manifest/normalizer"
	"github.com/aluiziolira/catalog-manifest/paginator"
	"github.com/aluiziolira/catalog-manifest/validate"
)

const (
	treeManifestName  = "manifest.json"
	indexManifestName = "manifest.json"
	indexCSVName      = "index.csv"
)

var pageFilePattern = regexp.MustCompile(`^page-([0-9]+)\.json$`)

// PageFileName returns the file name of page n.
func PageFileName(n int) string {
	return "page-" + strconv.Itoa(n) + ".json"
}

// Builder runs one build stage, or all of them, sequentially. Every stage
// computes its outputs in memory before anything is written.
type Builder struct {
	cfg        *config.Config
	crawler    *crawler.Crawler
	normalizer *normalizer.Normalizer
	writer     OutputWriter
	Metrics    *Metrics
}

// NewBuilder wires the stages from cfg. A nil writer writes to disk.
func NewBuilder(cfg *config.Config, writer OutputWriter) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	slugger, err := normalizer.NewSlugger(cfg.SlugCacheSize)
	if err != nil {
		return nil, err
	}
	if writer == nil {
		writer = NewFileWriter()
	}

	return &Builder{
		cfg: cfg,
		crawler: crawler.New(crawler.Options{
			SidecarNames: cfg.SidecarNames,
			SkipHidden:   cfg.SkipHidden,
			PathPrefix:   cfg.PathPrefix,
			ImagePrefix:  cfg.ImagePrefix,
		}),
		normalizer: normalizer.New(slugger),
		writer:     writer,
		Metrics:    NewMetrics(),
	}, nil
}

// output is one file a stage will write once all its work succeeded.
type output struct {
	path  string
	value any
	page  bool
}

// Run executes the configured stage.
func (b *Builder) Run(ctx context.Context) (*models.BuildResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.BuildResult{
		Stage:          b.cfg.Stage,
		StartTime:      time.Now(),
		StageDurations: make(map[string]time.Duration),
	}

	var err error
	switch b.cfg.Stage {
	case config.StageTree:
		err = b.runTree(ctx, result)
	case config.StageClean:
		err = b.runClean(ctx, result)
	case config.StagePaginate:
		err = b.runPaginate(ctx, result)
	case config.StageAll:
		err = b.runAll(ctx, result)
	default:
		err = fmt.Errorf("unknown stage %q", b.cfg.Stage)
	}
	result.EndTime = time.Now()

	if err != nil {
		b.Metrics.IncError(models.ErrorKind(err))
		return result, err
	}
	return result, nil
}

func (b *Builder) runTree(ctx context.Context, result *models.BuildResult) error {
	tree, err := b.crawl(ctx, result)
	if err != nil {
		return err
	}
	return b.commit(ctx, result, []output{{path: b.treeManifestPath(), value: tree}})
}

func (b *Builder) runClean(ctx context.Context, result *models.BuildResult) error {
	source, err := b.readSource(ctx, result)
	if err != nil {
		return err
	}
	source.Products = b.normalize(ctx, result, source.Products)
	if err := ctx.Err(); err != nil {
		return err
	}

	target := b.cfg.CleanOutput
	if target == "" {
		target = b.cfg.SourceManifest
	}
	return b.commit(ctx, result, []output{{path: target, value: source}})
}

func (b *Builder) runPaginate(ctx context.Context, result *models.BuildResult) error {
	source, err := b.readSource(ctx, result)
	if err != nil {
		return err
	}
	name := b.cfg.CatalogName
	if name == "" {
		name = source.Name
	}

	outputs, err := b.paginate(ctx, result, name, source.Products)
	if err != nil {
		return err
	}
	if err := b.commit(ctx, result, outputs); err != nil {
		return err
	}
	return b.pruneStalePages(result.PageCount)
}

func (b *Builder) runAll(ctx context.Context, result *models.BuildResult) error {
	tree, err := b.crawl(ctx, result)
	if err != nil {
		return err
	}

	products := b.normalize(ctx, result, tree.Products())
	if err := ctx.Err(); err != nil {
		return err
	}

	name := b.cfg.CatalogName
	if name == "" {
		name = tree.Root().Name
	}

	outputs, err := b.paginate(ctx, result, name, products)
	if err != nil {
		return err
	}
	outputs = append([]output{{path: b.treeManifestPath(), value: tree}}, outputs...)
	if err := b.commit(ctx, result, outputs); err != nil {
		return err
	}
	return b.pruneStalePages(result.PageCount)
}

func (b *Builder) crawl(ctx context.Context, result *models.BuildResult) (*models.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tree *models.Tree
	err := b.timed(result, "crawl", func() error {
		var err error
		tree, err = b.crawler.Crawl(b.cfg.RootDir)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", b.cfg.RootDir, err)
	}

	result.Files, result.Folders = tree.CountKinds()
	for _, warning := range b.crawler.Warnings() {
		result.Warnings = append(result.Warnings, warning.Error())
	}
	b.Metrics.AddNodes(string(models.KindFile), result.Files)
	b.Metrics.AddNodes(string(models.KindFolder), result.Folders)
	b.Metrics.AddSidecarErrors(len(result.Warnings))

	slog.Info("crawl complete",
		slog.String("root", b.cfg.RootDir),
		slog.Int("files", result.Files),
		slog.Int("folders", result.Folders),
		slog.Int("warnings", len(result.Warnings)),
	)
	return tree, nil
}

func (b *Builder) readSource(ctx context.Context, result *models.BuildResult) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var source *Source
	err := b.timed(result, "read", func() error {
		var err error
		source, err = ReadSource(b.cfg.SourceManifest)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read source manifest: %w", err)
	}
	for _, skipped := range source.Skipped {
		result.Warnings = append(result.Warnings, skipped.Error())
	}
	slog.Info("source manifest loaded",
		slog.String("path", b.cfg.SourceManifest),
		slog.Int("products", len(source.Products)),
		slog.Int("skipped", len(source.Skipped)),
	)
	return source, nil
}

func (b *Builder) normalize(ctx context.Context, result *models.BuildResult, products []*models.Product) []*models.Product {
	if ctx.Err() != nil {
		return products
	}
	start := time.Now()
	normalized := b.normalizer.Normalize(products)
	b.observe(result, "normalize", time.Since(start))

	result.Collisions = normalized.Collisions
	result.RelinkedRefs = normalized.Relinked
	b.Metrics.AddCollisions(normalized.Collisions)
	slog.Info("products normalized",
		slog.Int("products", len(normalized.Products)),
		slog.Int("collisions", normalized.Collisions),
		slog.Int("relinked_refs", normalized.Relinked),
	)
	return normalized.Products
}

func (b *Builder) paginate(ctx context.Context, result *models.BuildResult, name string, products []*models.Product) ([]output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.check(result, products)

	var outputs []output
	err := b.timed(result, "paginate", func() error {
		if b.cfg.RewriteImages {
			rewriter := paginator.NewImageRewriter(b.cfg.ThumbnailSize)
			products = rewriter.Rewrite(products)
			result.ImagesRewritten = rewriter.Rewritten()
			b.Metrics.AddImagesRewritten(rewriter.Rewritten())
		}

		pages, err := paginator.Paginate(products, b.cfg.ItemsPerPage)
		if err != nil {
			return err
		}
		index := paginator.BuildIndex(name, products, b.cfg.ItemsPerPage)

		dataDir := b.dataDir()
		for _, page := range pages {
			outputs = append(outputs, output{
				path:  filepath.Join(dataDir, PageFileName(page.Number)),
				value: page.Products,
				page:  true,
			})
		}
		outputs = append(outputs, output{path: filepath.Join(dataDir, indexManifestName), value: index})
		if b.cfg.IndexCSV {
			outputs = append(outputs, output{path: filepath.Join(dataDir, indexCSVName), value: index.Products})
		}

		result.ProductCount = index.TotalProducts
		result.PageCount = index.TotalPages
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.Metrics.SetProducts(result.ProductCount)
	slog.Info("catalog paginated",
		slog.String("name", name),
		slog.Int("products", result.ProductCount),
		slog.Int("pages", result.PageCount),
		slog.Int("page_size", b.cfg.ItemsPerPage),
		slog.Int("images_rewritten", result.ImagesRewritten),
	)
	return outputs, nil
}

// check reports products the front-end cannot render and references it
// cannot follow. Neither stops the build.
func (b *Builder) check(result *models.BuildResult, products []*models.Product) {
	for _, p := range products {
		if err := validate.Product(p); err != nil {
			result.InvalidProducts++
			slog.Warn("product failed validation", slog.Any("error", err))
		}
	}

	refs := validate.DanglingReferences(products)
	result.DanglingRefs = len(refs)
	b.Metrics.AddDanglingRefs(len(refs))
	for _, ref := range refs {
		slog.Debug("dangling reference", slog.String("ref", ref.String()))
	}
	if len(refs) > 0 {
		slog.Warn("catalog has dangling references", slog.Int("count", len(refs)))
	}
}

// commit writes outputs in order. Pages go before the index, so an
// interrupted write leaves an index that still matches the previous pages.
func (b *Builder) commit(ctx context.Context, result *models.BuildResult, outputs []output) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.timed(result, "write", func() error {
		for _, out := range outputs {
			var err error
			if summaries, ok := out.value.([]models.Summary); ok {
				err = b.writer.WriteCSV(out.path, indexCSVHeader, indexCSVRows(summaries))
			} else {
				err = b.writer.WriteJSON(out.path, out.value)
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", out.path, err)
			}
			if out.page {
				b.Metrics.IncPages()
			}
			result.OutputFiles = append(result.OutputFiles, out.path)
			slog.Debug("wrote output", slog.String("path", out.path))
		}
		return nil
	})
}

// pruneStalePages removes page files left over from a larger catalog.
func (b *Builder) pruneStalePages(totalPages int) error {
	dataDir := b.dataDir()
	matches, err := filepath.Glob(filepath.Join(dataDir, "page-*.json"))
	if err != nil {
		return fmt.Errorf("list page files: %w", err)
	}
	for _, match := range matches {
		groups := pageFilePattern.FindStringSubmatch(filepath.Base(match))
		if groups == nil {
			continue
		}
		n, err := strconv.Atoi(groups[1])
		if err != nil || n <= totalPages {
			continue
		}
		if err := b.writer.Remove(match); err != nil {
			return err
		}
		slog.Debug("removed stale page", slog.String("path", match))
	}
	return nil
}

func (b *Builder) timed(result *models.BuildResult, stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	b.observe(result, stage, time.Since(start))
	return err
}

func (b *Builder) observe(result *models.BuildResult, stage string, elapsed time.Duration) {
	result.StageDurations[stage] += elapsed
	b.Metrics.ObserveStage(stage, elapsed)
}

func (b *Builder) treeManifestPath() string {
	return filepath.Join(b.cfg.OutputDir, treeManifestName)
}

func (b *Builder) dataDir() string {
	return filepath.Join(b.cfg.OutputDir, b.cfg.DataDir)
}

var indexCSVHeader = []string{"id", "name", "brand", "images", "variants", "similar", "recommended"}

func indexCSVRows(summaries []models.Summary) [][]string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		variants := make([]string, 0, len(s.Variants))
		for _, v := range s.Variants {
			variants = append(variants, v.ProductID)
		}
		rows = append(rows, []string{
			s.ID,
			s.Name,
			s.Brand,
			strings.Join(s.Images, "|"),
			strings.Join(variants, "|"),
			strings.Join(s.Similar, "|"),
			strings.Join(s.Recommended, "|"),
		})
	}
	return rows
}
