// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelineconfig

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bureau-foundation/conveyor/lib/buildcause"
)

// labelPattern matches ${NAME} references in label templates.
var labelPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_][A-Za-z0-9_.\-]*)\}`)

// LabelReferences returns the names referenced by a label template, in
// order of appearance.
func LabelReferences(template string) []string {
	var references []string
	for _, match := range labelPattern.FindAllStringSubmatch(template, -1) {
		references = append(references, match[1])
	}
	return references
}

// Label renders the pipeline's label template for an instance.
// ${COUNT} becomes the counter and ${<material name>} the short
// revision of that material in revisions. Unknown references are left
// as written.
func (p *Pipeline) Label(counter int64, revisions buildcause.MaterialRevisions) string {
	template := p.LabelTemplate
	if template == "" {
		template = DefaultLabelTemplate
	}
	return labelPattern.ReplaceAllStringFunc(template, func(reference string) string {
		name := labelPattern.FindStringSubmatch(reference)[1]
		if strings.EqualFold(name, "COUNT") {
			return strconv.FormatInt(counter, 10)
		}
		for _, revision := range revisions {
			if strings.EqualFold(revision.Material.Name, name) {
				return revision.ShortRevision()
			}
		}
		return reference
	})
}
