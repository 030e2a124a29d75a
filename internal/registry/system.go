package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/steward/internal/storage"
)

const docsSeparator = "\n\n---\n\n"

// SystemDir loads system agents fresh from disk on every resolution, so
// operator edits take effect without a restart.
type SystemDir struct {
	dir string
}

// NewSystemDir creates a loader over the system-agent directory. An empty
// dir disables the tier.
func NewSystemDir(dir string) *SystemDir {
	return &SystemDir{dir: dir}
}

// Load reads one system agent. Its bootstrap context is the BOOTSTRAP.md
// content followed by every markdown file under docs/ in lexicographic
// order, each prefixed with a Reference header.
func (s *SystemDir) Load(name string) (*Definition, []string, error) {
	if s == nil || s.dir == "" {
		return nil, nil, storage.ErrNotFound
	}
	dir := filepath.Join(s.dir, name)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("stat system agent: %w", err)
	}

	files, err := readAgentDir(dir)
	if err != nil {
		return nil, nil, err
	}

	bootstrap := files.BootstrapMD
	docs, err := s.readDocs(filepath.Join(dir, "docs"))
	if err != nil {
		return nil, nil, err
	}
	if docs != "" {
		if bootstrap != "" {
			bootstrap += docsSeparator
		}
		bootstrap += docs
	}

	def := &Definition{
		AgentName:   name,
		UserID:      SystemUserID,
		Source:      SourceSystem,
		AgentMD:     files.AgentMD,
		ToolsMD:     files.ToolsMD,
		BootstrapMD: bootstrap,
	}
	return def, accessOf(files.AgentMD), nil
}

// List returns the system agent directory names.
func (s *SystemDir) List() ([]string, error) {
	if s == nil || s.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read system agent directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *SystemDir) readDocs(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read docs directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var sections []string
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("read doc %s: %w", name, err)
		}
		stem := strings.TrimSuffix(name, ".md")
		sections = append(sections, "Reference: "+stem+"\n\n"+string(content))
	}
	return strings.Join(sections, docsSeparator), nil
}

func accessOf(agentMD string) []string {
	var meta struct {
		Access []string `yaml:"access"`
	}
	if err := parseFrontmatter(agentMD, &meta); err != nil {
		return nil
	}
	return meta.Access
}

// allowedProfile applies the access rules: cos_internal callers may use
// cos_internal agents; admins may use admin_direct agents and also
// cos_internal ones.
func allowedProfile(profile string, access []string) bool {
	for _, grant := range access {
		switch grant {
		case AccessInternal:
			if profile == ProfileInternal || profile == ProfileAdmin {
				return true
			}
		case AccessAdminDirect:
			if profile == ProfileAdmin {
				return true
			}
		}
	}
	return false
}
