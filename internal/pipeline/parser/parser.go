package parser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"netshell/internal/pipeline/types"
)

// ParsePipeline parses a pipeline YAML file. The pipeline may be wrapped in a
// top-level "pipeline:" key or make up the whole document.
func ParsePipeline(filePath string) (*types.Pipeline, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a pipeline document from data.
func Parse(data []byte) (*types.Pipeline, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline YAML: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("pipeline file is empty")
	}

	node := root.Content[0]
	if wrapped := mappingValue(node, "pipeline"); wrapped != nil {
		node = wrapped
	}

	var pipeline types.Pipeline
	if err := node.Decode(&pipeline); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline struct: %w", err)
	}
	if pipeline.Name == "" {
		return nil, fmt.Errorf("pipeline has no name")
	}
	return &pipeline, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
