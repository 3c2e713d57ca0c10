// Package catalog maps templates to provider workflows and to the node that
// receives the user's uploaded image.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Workflow is one provider workflow and the templates rendered with it.
type Workflow struct {
	Ref       string   `yaml:"ref"`
	Name      string   `yaml:"name"`
	JobType   string   `yaml:"job_type"`
	ImageNode string   `yaml:"image_node"`
	Templates []string `yaml:"templates"`
}

// File is the on-disk catalog format.
type File struct {
	DefaultImageNode string     `yaml:"default_image_node"`
	Workflows        []Workflow `yaml:"workflows"`
}

// Catalog answers template and workflow lookups. Immutable after Parse.
type Catalog struct {
	defaultNode string
	byRef       map[string]Workflow
	byTemplate  map[string]Workflow
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML catalog and validates it.
func Parse(raw []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: failed to parse YAML: %w", err)
	}
	f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		defaultNode: f.DefaultImageNode,
		byRef:       make(map[string]Workflow, len(f.Workflows)),
		byTemplate:  make(map[string]Workflow),
	}
	for _, wf := range f.Workflows {
		c.byRef[wf.Ref] = wf
		for _, tmpl := range wf.Templates {
			c.byTemplate[tmpl] = wf
		}
	}
	return c, nil
}

// Normalize trims whitespace from every identifier.
func (f *File) Normalize() {
	f.DefaultImageNode = strings.TrimSpace(f.DefaultImageNode)
	for i := range f.Workflows {
		wf := &f.Workflows[i]
		wf.Ref = strings.TrimSpace(wf.Ref)
		wf.Name = strings.TrimSpace(wf.Name)
		wf.JobType = strings.TrimSpace(wf.JobType)
		wf.ImageNode = strings.TrimSpace(wf.ImageNode)
		templates := wf.Templates[:0]
		for _, t := range wf.Templates {
			if t = strings.TrimSpace(t); t != "" {
				templates = append(templates, t)
			}
		}
		wf.Templates = templates
	}
}

// Validate rejects duplicate refs and templates mapped to two workflows.
func (f File) Validate() error {
	refs := make(map[string]struct{}, len(f.Workflows))
	templates := make(map[string]string)
	for i, wf := range f.Workflows {
		if wf.Ref == "" {
			return fmt.Errorf("catalog: workflows[%d].ref is required", i)
		}
		if _, dup := refs[wf.Ref]; dup {
			return fmt.Errorf("catalog: workflow %s listed twice", wf.Ref)
		}
		refs[wf.Ref] = struct{}{}
		for _, tmpl := range wf.Templates {
			if other, dup := templates[tmpl]; dup {
				return fmt.Errorf("catalog: template %s mapped to %s and %s", tmpl, other, wf.Ref)
			}
			templates[tmpl] = wf.Ref
		}
	}
	return nil
}

// Workflow returns the workflow a template renders with.
func (c *Catalog) Workflow(templateID string) (Workflow, bool) {
	if c == nil {
		return Workflow{}, false
	}
	wf, ok := c.byTemplate[strings.TrimSpace(templateID)]
	return wf, ok
}

// ImageNodeID resolves the image node by template first, then by workflow
// ref, then the catalog default.
func (c *Catalog) ImageNodeID(templateID, workflowRef string) (string, bool) {
	if c == nil {
		return "", false
	}
	if wf, ok := c.byTemplate[strings.TrimSpace(templateID)]; ok && wf.ImageNode != "" {
		return wf.ImageNode, true
	}
	if wf, ok := c.byRef[strings.TrimSpace(workflowRef)]; ok && wf.ImageNode != "" {
		return wf.ImageNode, true
	}
	if c.defaultNode != "" {
		return c.defaultNode, true
	}
	return "", false
}

// Len is the number of workflows in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byRef)
}
