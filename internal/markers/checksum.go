package markers

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"

	"gopkg.in/yaml.v3"
)

// Checksum computes the SHA-1 of the "canonical source" of a marker file:
// the raw bytes decoded into a generic YAML node tree, with mapping keys
// sorted, then re-encoded. This resolves spec §3's undefined "canonical"
// (see SPEC_FULL.md §4): insignificant whitespace or comment changes in the
// source file never change the checksum, only changes to the actual
// key/value structure do.
func Checksum(raw []byte) (string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return "", err
	}
	canonicalize(&node)

	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}

	sum := sha1.Sum(out) //nolint:gosec // content-addressing, not a security boundary
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize recursively strips comments and sorts mapping-node
// key/value pairs by key so that comment edits and field reordering in the
// source file do not change the checksum.
func canonicalize(n *yaml.Node) {
	if n == nil {
		return
	}
	n.HeadComment, n.LineComment, n.FootComment = "", "", ""
	for _, c := range n.Content {
		canonicalize(c)
	}
	if n.Kind != yaml.MappingNode {
		return
	}
	type pair struct{ key, value *yaml.Node }
	pairs := make([]pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, pair{n.Content[i], n.Content[i+1]})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].key.Value < pairs[j].key.Value
	})
	content := make([]*yaml.Node, 0, len(n.Content))
	for _, p := range pairs {
		content = append(content, p.key, p.value)
	}
	n.Content = content
}
