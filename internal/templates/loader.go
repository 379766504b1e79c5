// Package templates reads ticket template definitions from YAML files and
// imports them through the template service.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

const (
	APIVersion = "officeflow/v1"
	Kind       = "TicketTemplate"
)

// Document is one template in a YAML file:
//
//	apiVersion: officeflow/v1
//	kind: TicketTemplate
//	metadata:
//	  name: Leave request
//	spec:
//	  default_priority: normal
//	  workflow: [...]
type Document struct {
	APIVersion string          `yaml:"apiVersion"`
	Kind       string          `yaml:"kind"`
	Metadata   Metadata        `yaml:"metadata"`
	Spec       models.Template `yaml:"spec"`
}

// Metadata names a template document.
type Metadata struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// Parse decodes every document in r. source names r in errors. Unknown keys
// are rejected so that typos in field names do not pass silently.
func Parse(r io.Reader, source string) ([]*models.Template, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []*models.Template
	for i := 0; ; i++ {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Validation("template_file", source, "document %d does not parse", i).Wrap(err)
		}
		if doc.Kind == "" && doc.Metadata.Name == "" && len(doc.Spec.Workflow) == 0 {
			continue
		}
		tmpl, err := doc.template()
		if err != nil {
			return nil, apperrors.Validation("template_file", source, "document %d", i).Wrap(err)
		}
		out = append(out, tmpl)
	}
	return out, nil
}

func (d *Document) template() (*models.Template, error) {
	if d.APIVersion != APIVersion {
		return nil, fmt.Errorf("apiVersion %q is not %s", d.APIVersion, APIVersion)
	}
	if d.Kind != Kind {
		return nil, fmt.Errorf("kind %q is not %s", d.Kind, Kind)
	}
	tmpl := d.Spec
	if d.Metadata.Name != "" {
		tmpl.Name = d.Metadata.Name
	}
	if d.Metadata.Description != "" {
		tmpl.Description = d.Metadata.Description
	}
	if tmpl.WorkflowConfig == nil {
		cfg := models.DefaultWorkflowConfig()
		tmpl.WorkflowConfig = &cfg
	}
	if tmpl.WorkflowConfig.NotificationRules == nil {
		tmpl.WorkflowConfig.NotificationRules = []models.NotificationRule{}
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadFile parses one YAML file.
func LoadFile(path string) ([]*models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}
	return Parse(bytes.NewReader(data), path)
}

// Load parses a file, or every *.yaml and *.yml file of a directory in name
// order. Template names must be unique across the result.
func Load(path string) ([]*models.Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read template dir: %w", err)
		}
		files = files[:0]
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
	}

	var out []*models.Template
	seen := make(map[string]string)
	for _, f := range files {
		list, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		for _, tmpl := range list {
			if prev, dup := seen[tmpl.Name]; dup {
				return nil, apperrors.Validation("template_file", f, "template %q already defined in %s", tmpl.Name, prev)
			}
			seen[tmpl.Name] = f
			out = append(out, tmpl)
		}
	}
	return out, nil
}
