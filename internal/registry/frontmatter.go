package registry

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// splitFrontmatter separates a markdown document into its YAML frontmatter
// and body. A document without a leading delimiter is all body.
func splitFrontmatter(content string) (meta string, body string) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontmatterDelim+"\n") {
		return "", content
	}
	rest := normalized[len(frontmatterDelim)+1:]
	if end := strings.Index(rest, "\n"+frontmatterDelim+"\n"); end >= 0 {
		meta = rest[:end]
		body = rest[end+len(frontmatterDelim)+2:]
		return meta, body
	}
	if strings.HasSuffix(rest, "\n"+frontmatterDelim) {
		return rest[:len(rest)-len(frontmatterDelim)-1], ""
	}
	return "", content
}

// parseFrontmatter unmarshals a document's frontmatter into out. A missing
// frontmatter block yields zero values without error; malformed YAML is an
// error callers may choose to swallow.
func parseFrontmatter(content string, out any) error {
	meta, _ := splitFrontmatter(content)
	if meta == "" {
		return nil
	}
	if err := yaml.Unmarshal([]byte(meta), out); err != nil {
		return fmt.Errorf("parse frontmatter: %w", err)
	}
	return nil
}
