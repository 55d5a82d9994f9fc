package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stages understood by the builder.
const (
	StageTree     = "tree"
	StageClean    = "clean"
	StagePaginate = "paginate"
	StageAll      = "all"
)

// Config holds builder configuration.
type Config struct {
	Stage          string   `yaml:"stage"`
	RootDir        string   `yaml:"root"`
	OutputDir      string   `yaml:"output"`
	DataDir        string   `yaml:"data_dir"`
	SourceManifest string   `yaml:"source"`
	CleanOutput    string   `yaml:"clean_output"`
	CatalogName    string   `yaml:"name"`
	ItemsPerPage   int      `yaml:"page_size"`
	SidecarNames   []string `yaml:"sidecars"`
	RewriteImages  bool     `yaml:"rewrite_images"`
	ThumbnailSize  string   `yaml:"thumbnail_size"`
	PathPrefix     string   `yaml:"path_prefix"`
	ImagePrefix    string   `yaml:"image_prefix"`
	SkipHidden     bool     `yaml:"skip_hidden"`
	IndexCSV       bool     `yaml:"index_csv"`
	SlugCacheSize  int      `yaml:"slug_cache_size"`
	MetricsFile    string   `yaml:"metrics_file"`
	Verbose        bool     `yaml:"verbose"`
}

var thumbnailSizePattern = regexp.MustCompile(`^[whs][0-9]+$`)

// DefaultConfig returns the layout the catalog front-end expects.
func DefaultConfig() *Config {
	return &Config{
		Stage:          StageAll,
		RootDir:        "public/images",
		OutputDir:      "public",
		DataDir:        "data",
		SourceManifest: "manifest.source.json",
		ItemsPerPage:   50,
		SidecarNames:   []string{"product.json", "product.yaml", "product.yml"},
		RewriteImages:  true,
		ThumbnailSize:  "w1000",
		SkipHidden:     true,
		SlugCacheSize:  1024,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	switch c.Stage {
	case StageTree, StageClean, StagePaginate, StageAll:
	default:
		return fmt.Errorf("stage must be tree, clean, paginate, or all")
	}

	if (c.Stage == StageTree || c.Stage == StageAll) && strings.TrimSpace(c.RootDir) == "" {
		return fmt.Errorf("root directory cannot be empty")
	}
	if (c.Stage == StageClean || c.Stage == StagePaginate) && strings.TrimSpace(c.SourceManifest) == "" {
		return fmt.Errorf("source manifest cannot be empty")
	}
	if c.Stage != StageClean && strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.ItemsPerPage <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if len(c.SidecarNames) == 0 {
		return fmt.Errorf("sidecar names cannot be empty")
	}
	for _, name := range c.SidecarNames {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("invalid sidecar name %q", name)
		}
	}
	if c.RewriteImages && !thumbnailSizePattern.MatchString(c.ThumbnailSize) {
		return fmt.Errorf("thumbnail size %q must look like w1000", c.ThumbnailSize)
	}
	if c.SlugCacheSize < 0 {
		return fmt.Errorf("slug cache size cannot be negative")
	}

	return nil
}

// LoadFile decodes a YAML configuration file over the current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvBool parses key as a boolean when it is set.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}
