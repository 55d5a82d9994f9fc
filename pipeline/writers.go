package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aluiziolira/catalog-manifest/models"
)

// OutputWriter persists build outputs.
type OutputWriter interface {
	WriteJSON(path string, v any) error
	WriteCSV(path string, header []string, rows [][]string) error
	Remove(path string) error
}

// FileWriter writes each output to a temp file next to its destination and
// renames it into place, so readers never see a half-written file.
type FileWriter struct{}

// NewFileWriter returns a writer for the local file system.
func NewFileWriter() *FileWriter {
	return &FileWriter{}
}

// WriteJSON encodes v with two-space indentation and no HTML escaping.
func (fw *FileWriter) WriteJSON(path string, v any) error {
	return fw.writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	})
}

// WriteCSV writes a header row followed by rows.
func (fw *FileWriter) WriteCSV(path string, header []string, rows [][]string) error {
	return fw.writeAtomic(path, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		if err := writer.WriteAll(rows); err != nil {
			return fmt.Errorf("write csv records: %w", err)
		}
		return nil
	})
}

// Remove deletes path; a missing file is not an error.
func (fw *FileWriter) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return models.ErrFileSystem{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func (fw *FileWriter) writeAtomic(path string, encode func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return models.ErrFileSystem{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	buffer := bufio.NewWriter(tmp)
	if err := encode(buffer); err != nil {
		cleanup()
		return models.ErrFileSystem{Op: "write", Path: path, Err: err}
	}
	if err := buffer.Flush(); err != nil {
		cleanup()
		return models.ErrFileSystem{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return models.ErrFileSystem{Op: "chmod", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return models.ErrFileSystem{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return models.ErrFileSystem{Op: "rename", Path: path, Err: err}
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.ErrFileSystem{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}
