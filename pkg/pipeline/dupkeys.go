package pipeline

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

// checkDuplicateKeys walks every mapping in the tree and fails on the first key
// declared twice. yaml.v3 also rejects these while decoding, but without a path.
func checkDuplicateKeys(node *yaml.Node, path string) error {
	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := checkDuplicateKeys(child, path); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		seen := make(map[string]int, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if key.Value == "<<" {
				// merge keys are expanded by the decoder
				continue
			}
			if first, ok := seen[key.Value]; ok {
				return &DuplicateKeyError{Path: path, Key: key.Value, Line: key.Line, FirstLine: first}
			}
			seen[key.Value] = key.Line
			if err := checkDuplicateKeys(value, joinPath(path, key.Value)); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, child := range node.Content {
			if err := checkDuplicateKeys(child, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	}
	return nil
}
