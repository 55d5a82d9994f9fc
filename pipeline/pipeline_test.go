package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/catalog-manifest/config"
	"github.com/aluiziolira/catalog-manifest/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockWriter struct {
	mu      sync.Mutex
	json    map[string]any
	csv     map[string][][]string
	removed []string
}

func newMockWriter() *mockWriter {
	return &mockWriter{json: make(map[string]any), csv: make(map[string][][]string)}
}

func (mw *mockWriter) WriteJSON(path string, v any) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.json[path] = v
	return nil
}

func (mw *mockWriter) WriteCSV(path string, header []string, rows [][]string) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.csv[path] = append([][]string{header}, rows...)
	return nil
}

func (mw *mockWriter) Remove(path string) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.removed = append(mw.removed, path)
	return nil
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return len(mw.json) + len(mw.csv)
}

type failingWriter struct {
	failOn string
	*mockWriter
}

func (fw *failingWriter) WriteJSON(path string, v any) error {
	if strings.HasSuffix(path, fw.failOn) {
		return models.ErrFileSystem{Op: "write", Path: path, Err: errors.New("disk full")}
	}
	return fw.mockWriter.WriteJSON(path, v)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

// buildCatalog lays out two brands with three products, including a name
// collision and a malformed sidecar.
func buildCatalog(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "images")
	writeFile(t, filepath.Join(root, "Acme", "tee-a", "product.json"),
		`{"name":"Classic Tee","brand":"Acme","images":["https://drive.google.com/open?id=AAA"],"similar":["classic-tee-1","ghost"]}`)
	writeFile(t, filepath.Join(root, "Acme", "tee-a", "1.jpg"), "x")
	writeFile(t, filepath.Join(root, "Acme", "tee-b", "product.json"),
		`{"name":"Classic Tee","brand":"Acme","images":["https://cdn.example.com/b.jpg"],"recommended":["cool-jacket"]}`)
	writeFile(t, filepath.Join(root, "Acme", "broken", "product.json"), `{nope`)
	writeFile(t, filepath.Join(root, "Zeta", "jacket", "product.yaml"),
		"name: \"Cool Jacket 🔥 [2024-01-01]\"\nbrand: Zeta\nimages:\n  - https://drive.google.com/open?id=JJJ\nfabric: wool\n")
	return root
}

func allConfig(root, out string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.RootDir = root
	cfg.OutputDir = out
	cfg.ItemsPerPage = 2
	cfg.CatalogName = "Aureum Vestis"
	return cfg
}

func TestBuilderAllStage(t *testing.T) {
	root := buildCatalog(t)
	out := filepath.Join(t.TempDir(), "public")
	cfg := allConfig(root, out)
	cfg.IndexCSV = true

	b, err := NewBuilder(cfg, nil)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.ProductCount != 3 || result.PageCount != 2 {
		t.Fatalf("products=%d pages=%d, want 3 and 2", result.ProductCount, result.PageCount)
	}
	if result.Collisions != 1 {
		t.Fatalf("collisions = %d, want 1", result.Collisions)
	}
	if result.ImagesRewritten != 2 {
		t.Fatalf("images rewritten = %d, want 2", result.ImagesRewritten)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one malformed sidecar", result.Warnings)
	}

	var index struct {
		Name          string           `json:"name"`
		TotalProducts int              `json:"totalProducts"`
		TotalPages    int              `json:"totalPages"`
		ItemsPerPage  int              `json:"itemsPerPage"`
		Products      []models.Summary `json:"products"`
	}
	readJSON(t, filepath.Join(out, "data", "manifest.json"), &index)
	if index.Name != "Aureum Vestis" || index.TotalProducts != 3 || index.TotalPages != 2 || index.ItemsPerPage != 2 {
		t.Fatalf("unexpected index metadata: %+v", index)
	}

	ids := make([]string, 0, len(index.Products))
	for _, p := range index.Products {
		ids = append(ids, p.ID)
	}
	if strings.Join(ids, ",") != "classic-tee,classic-tee-1,cool-jacket" {
		t.Fatalf("ids = %v", ids)
	}
	if index.Products[2].Name != "Cool Jacket" {
		t.Fatalf("name = %q, want Cool Jacket", index.Products[2].Name)
	}
	if index.Products[0].Images[0] != "https://drive.google.com/thumbnail?id=AAA&sz=w1000" {
		t.Fatalf("image = %q", index.Products[0].Images[0])
	}

	var page1, page2 []map[string]any
	readJSON(t, filepath.Join(out, "data", "page-1.json"), &page1)
	readJSON(t, filepath.Join(out, "data", "page-2.json"), &page2)
	if len(page1) != 2 || len(page2) != 1 {
		t.Fatalf("page sizes = %d, %d; want 2, 1", len(page1), len(page2))
	}
	if page2[0]["fabric"] != "wool" || page2[0]["path"] != "Zeta/jacket" {
		t.Fatalf("page record lost fields: %v", page2[0])
	}

	raw, err := os.ReadFile(filepath.Join(out, "data", "page-1.json"))
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if bytes.Contains(raw, []byte(`\u0026`)) || !bytes.Contains(raw, []byte(`&sz=w1000`)) {
		t.Fatalf("page output should keep & unescaped:\n%s", raw)
	}

	var tree map[string]any
	readJSON(t, filepath.Join(out, "manifest.json"), &tree)
	if tree["type"] != "folder" || tree["name"] != "images" {
		t.Fatalf("unexpected tree root: %v", tree)
	}

	if _, err := os.Stat(filepath.Join(out, "data", "index.csv")); err != nil {
		t.Fatalf("index csv missing: %v", err)
	}

	if got := testutil.ToFloat64(b.Metrics.Products); got != 3 {
		t.Fatalf("products gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(b.Metrics.PagesWrittenTotal); got != 2 {
		t.Fatalf("pages counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.Metrics.SidecarErrorsTotal); got != 1 {
		t.Fatalf("sidecar errors = %v, want 1", got)
	}
}

func TestBuilderIdempotent(t *testing.T) {
	root := buildCatalog(t)
	out := filepath.Join(t.TempDir(), "public")

	snapshot := func() map[string][]byte {
		b, err := NewBuilder(allConfig(root, out), nil)
		if err != nil {
			t.Fatalf("new builder: %v", err)
		}
		if _, err := b.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		files := make(map[string][]byte)
		err = filepath.Walk(out, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			files[path] = data
			return nil
		})
		if err != nil {
			t.Fatalf("walk output: %v", err)
		}
		return files
	}

	first := snapshot()
	second := snapshot()
	if len(first) != len(second) {
		t.Fatalf("file count changed: %d vs %d", len(first), len(second))
	}
	for path, data := range first {
		if !bytes.Equal(data, second[path]) {
			t.Fatalf("%s differs between runs", path)
		}
	}
}

func TestBuilderCrossReferencesResolvable(t *testing.T) {
	source := filepath.Join(t.TempDir(), "manifest.source.json")
	writeFile(t, source, `{"name":"Shop","children":[
		{"id":"tee","name":"Tee","similar":["hat","ghost"],"variants":[{"productId":"tee-red","name":"Red","image":"r.jpg"}]},
		{"id":"hat","name":"Hat","recommended":["tee"]},
		{"id":"tee-red","name":"Tee Red"}
	]}`)

	cfg := config.DefaultConfig()
	cfg.Stage = config.StagePaginate
	cfg.SourceManifest = source
	cfg.OutputDir = t.TempDir()

	b, err := NewBuilder(cfg, nil)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DanglingRefs != 1 {
		t.Fatalf("dangling refs = %d, want 1", result.DanglingRefs)
	}
	if got := testutil.ToFloat64(b.Metrics.DanglingRefsTotal); got != 1 {
		t.Fatalf("dangling metric = %v, want 1", got)
	}

	var index models.CatalogIndex
	readJSON(t, filepath.Join(cfg.OutputDir, "data", "manifest.json"), &index)
	known := make(map[string]bool)
	for _, p := range index.Products {
		known[p.ID] = true
	}
	sourceIDs := map[string]bool{"tee": true, "hat": true, "tee-red": true}
	for _, p := range index.Products {
		refs := append(append([]string{}, p.Similar...), p.Recommended...)
		for _, v := range p.Variants {
			refs = append(refs, v.ProductID)
		}
		for _, ref := range refs {
			if sourceIDs[ref] && !known[ref] {
				t.Fatalf("reference %q from %q not in index", ref, p.ID)
			}
		}
	}
	if index.Name != "Shop" {
		t.Fatalf("name = %q, want source name", index.Name)
	}
	if len(index.Products[0].Similar) != 2 {
		t.Fatalf("dangling references should be kept, got %v", index.Products[0].Similar)
	}
}

func TestBuilderAllStageRelinksRawIDs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	writeFile(t, filepath.Join(root, "Acme", "tee", "product.json"),
		`{"id":"SKU-200","name":"Tee","similar":["SKU-100"],"variants":[{"productId":"SKU-100","name":"Jacket","image":"j.jpg"}]}`)
	writeFile(t, filepath.Join(root, "Zeta", "jacket", "product.json"), `{"id":"SKU-100","name":"Cool Jacket"}`)
	out := filepath.Join(t.TempDir(), "public")

	b, err := NewBuilder(allConfig(root, out), nil)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.DanglingRefs != 0 || result.RelinkedRefs != 2 {
		t.Fatalf("dangling=%d relinked=%d, want 0 and 2", result.DanglingRefs, result.RelinkedRefs)
	}
	for _, stage := range []string{"crawl", "normalize", "paginate", "write"} {
		if _, ok := result.StageDurations[stage]; !ok {
			t.Fatalf("stage %q not timed: %v", stage, result.StageDurations)
		}
	}

	var index models.CatalogIndex
	readJSON(t, filepath.Join(out, "data", "manifest.json"), &index)
	known := make(map[string]bool)
	for _, p := range index.Products {
		known[p.ID] = true
	}
	tee := index.Products[0]
	if tee.ID != "tee" || len(tee.Similar) != 1 || len(tee.Variants) != 1 {
		t.Fatalf("unexpected tee summary: %+v", tee)
	}
	for _, ref := range []string{tee.Similar[0], tee.Variants[0].ProductID} {
		if !known[ref] {
			t.Fatalf("reference %q not found in index ids %v", ref, known)
		}
	}
}

func TestBuilderInvalidManifestShapeWritesNothing(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing children", content: `{"name":"Shop"}`},
		{name: "children object", content: `{"name":"Shop","children":{"id":"x"}}`},
		{name: "children null", content: `{"name":"Shop","children":null}`},
		{name: "not an object", content: `[1,2,3]`},
		{name: "null product", content: `{"children":[null]}`},
		{name: "scalar product", content: `{"children":["tee"]}`},
	}

	for _, stage := range []string{config.StagePaginate, config.StageClean} {
		for _, tt := range tests {
			t.Run(stage+"/"+tt.name, func(t *testing.T) {
				source := filepath.Join(t.TempDir(), "manifest.source.json")
				writeFile(t, source, tt.content)

				cfg := config.DefaultConfig()
				cfg.Stage = stage
				cfg.SourceManifest = source
				cfg.OutputDir = t.TempDir()

				writer := newMockWriter()
				b, err := NewBuilder(cfg, writer)
				if err != nil {
					t.Fatalf("new builder: %v", err)
				}
				_, err = b.Run(context.Background())
				var shape models.ErrInvalidManifestShape
				if !errors.As(err, &shape) {
					t.Fatalf("expected ErrInvalidManifestShape, got %v", err)
				}
				if writer.totalWritten() != 0 || len(writer.removed) != 0 {
					t.Fatalf("no output should be written on failure")
				}
				if got := testutil.ToFloat64(b.Metrics.ErrorsTotal.WithLabelValues("invalid_manifest_shape")); got != 1 {
					t.Fatalf("error counter = %v, want 1", got)
				}
			})
		}
	}
}

func TestBuilderMissingRootWritesNothing(t *testing.T) {
	cfg := allConfig(filepath.Join(t.TempDir(), "missing"), t.TempDir())
	writer := newMockWriter()
	b, err := NewBuilder(cfg, writer)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	_, err = b.Run(context.Background())
	var fsErr models.ErrFileSystem
	if !errors.As(err, &fsErr) {
		t.Fatalf("expected ErrFileSystem, got %v", err)
	}
	if writer.totalWritten() != 0 {
		t.Fatalf("no output should be written on failure")
	}
}

func TestBuilderWriteFailureStops(t *testing.T) {
	root := buildCatalog(t)
	writer := &failingWriter{failOn: "page-1.json", mockWriter: newMockWriter()}
	b, err := NewBuilder(allConfig(root, t.TempDir()), writer)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	_, err = b.Run(context.Background())
	if models.ErrorKind(err) != "filesystem" {
		t.Fatalf("expected filesystem error, got %v", err)
	}
	for path := range writer.json {
		if strings.HasSuffix(path, filepath.Join("data", "manifest.json")) {
			t.Fatalf("index must not be written after a page failed")
		}
	}
}

func TestBuilderCanceledContext(t *testing.T) {
	root := buildCatalog(t)
	writer := newMockWriter()
	b, err := NewBuilder(allConfig(root, t.TempDir()), writer)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if writer.totalWritten() != 0 {
		t.Fatalf("canceled build should not write")
	}
}

func TestBuilderCleanStage(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "manifest.source.json")
	writeFile(t, source, `{"name":"Shop","version":3,"children":[
		{"id":"a","name":"Classic Tee","brand":"Acme","season":"fw"},
		{"id":"b","name":"Classic Tee [2024-02-02]"},
		{"id":"Fallback","name":"✨"}
	]}`)

	cfg := config.DefaultConfig()
	cfg.Stage = config.StageClean
	cfg.SourceManifest = source

	b, err := NewBuilder(cfg, nil)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	var cleaned struct {
		Name     string           `json:"name"`
		Version  int              `json:"version"`
		Children []map[string]any `json:"children"`
	}
	readJSON(t, source, &cleaned)
	if cleaned.Name != "Shop" || cleaned.Version != 3 {
		t.Fatalf("top-level fields lost: %+v", cleaned)
	}
	want := []string{"classic-tee", "classic-tee-1", "fallback"}
	for i, id := range want {
		if cleaned.Children[i]["id"] != id {
			t.Fatalf("child %d id = %v, want %q", i, cleaned.Children[i]["id"], id)
		}
	}
	if cleaned.Children[1]["name"] != "Classic Tee" {
		t.Fatalf("name = %v, want cleaned", cleaned.Children[1]["name"])
	}
	if cleaned.Children[0]["season"] != "fw" {
		t.Fatalf("unknown product field lost: %v", cleaned.Children[0])
	}
}

func TestBuilderPrunesStalePages(t *testing.T) {
	out := t.TempDir()
	dataDir := filepath.Join(out, "data")
	writeFile(t, filepath.Join(dataDir, "page-1.json"), "[]")
	writeFile(t, filepath.Join(dataDir, "page-5.json"), "[]")
	writeFile(t, filepath.Join(dataDir, "page-notes.json"), "{}")

	source := filepath.Join(t.TempDir(), "manifest.source.json")
	writeFile(t, source, `{"name":"Shop","children":[{"id":"a","name":"A"},{"id":"b","name":"B"}]}`)

	cfg := config.DefaultConfig()
	cfg.Stage = config.StagePaginate
	cfg.SourceManifest = source
	cfg.OutputDir = out

	b, err := NewBuilder(cfg, nil)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		t.Fatalf("read data dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "manifest.json,page-1.json,page-notes.json" {
		t.Fatalf("data dir = %v", names)
	}
}

func TestBuilderRewriteDisabled(t *testing.T) {
	root := buildCatalog(t)
	cfg := allConfig(root, t.TempDir())
	cfg.RewriteImages = false

	writer := newMockWriter()
	b, err := NewBuilder(cfg, writer)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	result, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ImagesRewritten != 0 {
		t.Fatalf("images rewritten = %d, want 0", result.ImagesRewritten)
	}
	index, ok := writer.json[filepath.Join(cfg.OutputDir, "data", "manifest.json")].(models.CatalogIndex)
	if !ok {
		t.Fatalf("index not written")
	}
	if index.Products[0].Images[0] != "https://drive.google.com/open?id=AAA" {
		t.Fatalf("image = %q, want original", index.Products[0].Images[0])
	}
}
