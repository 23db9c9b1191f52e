package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/waffletower/invokeai-graph/graph"
	"github.com/waffletower/invokeai-graph/registry"
)

// loadGraphDocument reads a graph document file (JSON or YAML, detected by
// extension) and decodes it into a runnable Graph against the global node
// registry. Grounded on the teacher's yamlToJSONIfNeeded conversion step.
func loadGraphDocument(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from user CLI argument
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", path)
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}

	jsonData, err := yamlToJSONIfNeeded(data, path)
	if err != nil {
		return nil, exitError(exitValidation, "parsing %s: %v", path, err)
	}

	var doc graph.GraphDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, exitError(exitValidation, "parsing graph document: %v", err)
	}

	g, err := graph.ToGraph(doc, registry.Global())
	if err != nil {
		return nil, exitError(exitValidation, "building graph: %v", err)
	}
	return g, nil
}

func yamlToJSONIfNeeded(data []byte, path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return json.Marshal(raw)
	}
	return data, nil
}
