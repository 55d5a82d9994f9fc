package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aluiziolira/catalog-manifest/models"
	"gopkg.in/yaml.v3"
)

// decodeSidecar parses sidecar bytes into a product. The format follows the
// file extension; anything that is not a JSON or YAML object is rejected.
func decodeSidecar(name string, data []byte) (*models.Product, error) {
	var jsonData []byte
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		jsonData = converted
	default:
		jsonData = data
	}

	trimmed := bytes.TrimSpace(jsonData)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("sidecar must contain an object")
	}

	var product models.Product
	if err := json.Unmarshal(trimmed, &product); err != nil {
		return nil, err
	}
	for key := range models.StructuralKeys {
		delete(product.Extra, key)
	}
	if len(product.Extra) == 0 {
		product.Extra = nil
	}
	return &product, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("sidecar must contain a mapping")
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml sidecar: %w", err)
	}
	return encoded, nil
}
