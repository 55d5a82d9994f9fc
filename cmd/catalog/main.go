package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/catalog-manifest/config"
	"github.com/aluiziolira/catalog-manifest/models"
	"github.com/aluiziolira/catalog-manifest/pipeline"
)

func main() {
	defaults := config.DefaultConfig()

	stage := flag.String("stage", defaults.Stage, "Stage to run: tree, clean, paginate, or all")
	root := flag.String("root", defaults.RootDir, "Image tree to crawl")
	output := flag.String("output", defaults.OutputDir, "Output directory for the tree manifest and data files")
	dataDir := flag.String("data-dir", defaults.DataDir, "Directory for pages and the index, relative to -output")
	source := flag.String("source", defaults.SourceManifest, "Flat source manifest read by clean and paginate")
	cleanOutput := flag.String("clean-output", "", "Where clean writes the normalized manifest (default: overwrite -source)")
	pageSize := flag.Int("page-size", defaults.ItemsPerPage, "Products per page")
	name := flag.String("name", "", "Catalog name written to the index (default: root or source name)")
	rewriteImages := flag.Bool("rewrite-images", defaults.RewriteImages, "Rewrite Google Drive links to thumbnail links")
	thumbnailSize := flag.String("thumbnail-size", defaults.ThumbnailSize, "Thumbnail size parameter, e.g. w1000")
	pathPrefix := flag.String("path-prefix", "", "Prefix for node paths in the tree manifest")
	imagePrefix := flag.String("image-prefix", "", "Prefix for relative image references in sidecars")
	skipHidden := flag.Bool("skip-hidden", defaults.SkipHidden, "Skip dot-files and dot-directories")
	indexCSV := flag.Bool("index-csv", false, "Also write the index as CSV")
	metricsFile := flag.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	configFile := flag.String("config", "", "YAML configuration file")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()

	path := *configFile
	if !flagSet("config") {
		if value, ok := config.EnvString("CATALOG_CONFIG"); ok {
			path = value
		}
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			slog.Error("loading configuration", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if err := applyEnv(cfg); err != nil {
		slog.Error("invalid environment", slog.Any("error", err))
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "stage":
			cfg.Stage = strings.ToLower(*stage)
		case "root":
			cfg.RootDir = *root
		case "output":
			cfg.OutputDir = *output
		case "data-dir":
			cfg.DataDir = *dataDir
		case "source":
			cfg.SourceManifest = *source
		case "clean-output":
			cfg.CleanOutput = *cleanOutput
		case "page-size":
			cfg.ItemsPerPage = *pageSize
		case "name":
			cfg.CatalogName = *name
		case "rewrite-images":
			cfg.RewriteImages = *rewriteImages
		case "thumbnail-size":
			cfg.ThumbnailSize = *thumbnailSize
		case "path-prefix":
			cfg.PathPrefix = *pathPrefix
		case "image-prefix":
			cfg.ImagePrefix = *imagePrefix
		case "skip-hidden":
			cfg.SkipHidden = *skipHidden
		case "index-csv":
			cfg.IndexCSV = *indexCSV
		case "metrics-file":
			cfg.MetricsFile = *metricsFile
		case "v":
			cfg.Verbose = *verbose
		}
	})
	if cfg.Verbose {
		level.Set(slog.LevelDebug)
	}

	builder, err := pipeline.NewBuilder(cfg, nil)
	if err != nil {
		slog.Error("initialising builder", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting build",
		slog.String("stage", cfg.Stage),
		slog.String("root", cfg.RootDir),
		slog.String("output", cfg.OutputDir),
		slog.Int("page_size", cfg.ItemsPerPage),
	)

	result, runErr := builder.Run(ctx)

	if err := builder.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		slog.Error("writing metrics", slog.Any("error", err))
	}

	if runErr != nil {
		slog.Error("build failed",
			slog.String("stage", cfg.Stage),
			slog.String("error_type", models.ErrorKind(runErr)),
			slog.Any("error", runErr),
		)
		stop()
		os.Exit(1)
	}

	printSummary(result, cfg)
}

// applyEnv overrides cfg with the CATALOG_* variables that are set.
func applyEnv(cfg *config.Config) error {
	if value, ok := config.EnvString("CATALOG_ROOT"); ok {
		cfg.RootDir = value
	}
	if value, ok := config.EnvString("CATALOG_OUTPUT"); ok {
		cfg.OutputDir = value
	}
	if value, ok := config.EnvString("CATALOG_SOURCE"); ok {
		cfg.SourceManifest = value
	}
	if value, ok := config.EnvString("CATALOG_NAME"); ok {
		cfg.CatalogName = value
	}
	if value, ok := config.EnvString("CATALOG_METRICS_FILE"); ok {
		cfg.MetricsFile = value
	}
	if value, ok, err := config.EnvInt("CATALOG_PAGE_SIZE"); err != nil {
		return err
	} else if ok {
		cfg.ItemsPerPage = value
	}
	return nil
}

func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printSummary(result *models.BuildResult, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Build complete")

	fmt.Printf("  Stage:         %s\n", result.Stage)
	if result.Files+result.Folders > 0 {
		fmt.Printf("  Crawled:       %d files, %d folders\n", result.Files, result.Folders)
	}
	fmt.Printf("  Products:      %d\n", result.ProductCount)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Collisions:    %d\n", result.Collisions)
	fmt.Printf("  Images:        %d rewritten\n", result.ImagesRewritten)
	if result.InvalidProducts > 0 {
		fmt.Printf("  Invalid:       %d\n", result.InvalidProducts)
	}
	if result.RelinkedRefs > 0 {
		fmt.Printf("  Relinked refs: %d\n", result.RelinkedRefs)
	}
	if result.DanglingRefs > 0 {
		fmt.Printf("  Dangling refs: %d\n", result.DanglingRefs)
	}
	fmt.Printf("  Warnings:      %d\n", len(result.Warnings))
	for _, warning := range result.Warnings {
		fmt.Printf("    - %s\n", warning)
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	fmt.Printf("  Output files:  %d\n", len(result.OutputFiles))
	if cfg.Stage != config.StageClean {
		fmt.Printf("  Output dir:    %s\n", cfg.OutputDir)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
