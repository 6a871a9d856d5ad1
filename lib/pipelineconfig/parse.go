// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelineconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Extensions lists the file extensions a Store loads.
var Extensions = []string{".jsonc", ".json"}

// Parse strips JSONC comments and trailing commas from data and
// decodes one pipeline definition. Unknown fields are rejected so that
// typos in a definition surface as load issues.
func Parse(data []byte) (*Pipeline, error) {
	decoder := json.NewDecoder(strings.NewReader(string(jsonc.ToJSON(data))))
	decoder.DisallowUnknownFields()

	var pipeline Pipeline
	if err := decoder.Decode(&pipeline); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}
	return &pipeline, nil
}

// ReadFile reads and parses a definition file. A definition without a
// name takes it from the file name; a definition whose name disagrees
// with the file name is an error.
func ReadFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	pipeline, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	name := NameFromPath(path)
	switch {
	case pipeline.Name == "":
		pipeline.Name = name
	case pipeline.Name != name:
		return nil, fmt.Errorf("%s: pipeline name %q does not match file name %q", path, pipeline.Name, name)
	}
	return pipeline, nil
}

// NameFromPath extracts a pipeline name from a file path by stripping
// the directory and the extension: "pipelines/web-app.jsonc" is
// "web-app".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
