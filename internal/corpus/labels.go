package corpus

import (
	"fmt"
	"os"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Labels maps a query id to the set of passage ids judged relevant.
type Labels map[string]map[string]struct{}

// Relevant returns the relevant passage ids for qid. A query without labels
// has an empty set.
func (l Labels) Relevant(qid string) map[string]struct{} {
	if set, ok := l[qid]; ok {
		return set
	}
	return map[string]struct{}{}
}

// SortedRelevant returns Relevant(qid) as a sorted slice.
func (l Labels) SortedRelevant(qid string) []string {
	set := l.Relevant(qid)
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadLabels reads a relevance label document. JSON is accepted as a subset
// of YAML. Each query maps either to an object keyed by passage id (values
// such as relevance grades are ignored), to a list of passage ids, or to a
// single passage id.
func LoadLabels(path string) (Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading labels file: %w", err)
	}
	labels, err := ParseLabels(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}

func ParseLabels(data []byte) (Labels, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrLabelsFormat, err)
	}
	labels := make(Labels, len(doc))
	for qid, node := range doc {
		set := make(map[string]struct{})
		switch node.Kind {
		case yaml.MappingNode:
			for i := 0; i+1 < len(node.Content); i += 2 {
				set[node.Content[i].Value] = struct{}{}
			}
		case yaml.SequenceNode:
			for _, item := range node.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("%w: query %q: list entries must be passage ids (line %d)",
						apperrors.ErrLabelsFormat, qid, item.Line)
				}
				set[item.Value] = struct{}{}
			}
		case yaml.ScalarNode:
			if node.Tag != "!!null" && node.Value != "" {
				set[node.Value] = struct{}{}
			}
		default:
			return nil, fmt.Errorf("%w: query %q: unsupported value (line %d)",
				apperrors.ErrLabelsFormat, qid, node.Line)
		}
		labels[qid] = set
	}
	return labels, nil
}
