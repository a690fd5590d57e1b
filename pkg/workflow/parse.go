package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDefinition decodes the editor's JSON shape
func ParseDefinition(b []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	return &def, nil
}

// ParseWorkflow decodes a workflow document. Documents without a "definition"
// key are treated as a bare definition.
func ParseWorkflow(b []byte) (*Workflow, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}

	if _, ok := fields["definition"]; !ok {
		def, err := ParseDefinition(b)
		if err != nil {
			return nil, err
		}
		return &Workflow{Definition: *def}, nil
	}

	var wf Workflow
	if err := json.Unmarshal(b, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	return &wf, nil
}

// YAMLToJSON converts a YAML document into JSON so it can share the JSON decoders
func YAMLToJSON(b []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert yaml: %w", err)
	}
	return out, nil
}

// LoadFile reads a workflow from a .json, .yaml or .yml file. A workflow
// without an id takes the file name without extension.
func LoadFile(path string) (*Workflow, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		b, err = YAMLToJSON(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported workflow file extension %q", ext)
	}

	wf, err := ParseWorkflow(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if wf.ID == "" {
		wf.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return wf, nil
}
