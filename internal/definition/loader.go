// Package definition loads playbook and prompt YAML files, validates them,
// and provides a fast-lookup registry with atomic pointer swap.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/halcyonix/playbook/model"
)

// Document is the shape of one definition file. A file holds either a single
// playbook or a list of reusable prompt templates.
type Document struct {
	Playbook *model.Playbook        `yaml:"playbook"`
	Prompts  []model.PromptTemplate `yaml:"prompts"`
}

// Loader scans directories for YAML definition files, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into playbooks and prompt templates.
func (l *Loader) LoadAll(directories []string) ([]model.Playbook, []model.PromptTemplate, error) {
	var (
		playbooks []model.Playbook
		prompts   []model.PromptTemplate
	)

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			pb, pr, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			if pb != nil {
				playbooks = append(playbooks, *pb)
			}
			prompts = append(prompts, pr...)
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return playbooks, prompts, nil
}

// LoadFile loads and parses a single YAML definition file. For playbook files
// it computes the SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (*model.Playbook, []model.PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if doc.Playbook == nil && len(doc.Prompts) == 0 {
		return nil, nil, fmt.Errorf("%s: file defines neither a playbook nor prompts", path)
	}

	if doc.Playbook != nil {
		doc.Playbook.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
		doc.Playbook.SourceFile = path
	}

	return doc.Playbook, doc.Prompts, nil
}
