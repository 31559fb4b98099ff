// Package catalog holds the static application templates the
// marketplace offers. Templates are loaded once at startup and never
// mutated afterwards.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Resources describes the VM sizing a template expects.
type Resources struct {
	CPU       int `yaml:"cpu" json:"cpu"`
	MemoryMiB int `yaml:"memory_mib" json:"memory_mib"`
	DiskGiB   int `yaml:"disk_gib" json:"disk_gib"`
}

// AppTemplate is one deployable application. Compose is an opaque
// docker-compose document; it may contain the __GENERATED_PASSWORD__
// and __GENERATED_ROOT_PASSWORD__ placeholders that the orchestrator
// fills per deployment.
type AppTemplate struct {
	ID            string    `yaml:"id" json:"id"`
	Name          string    `yaml:"name" json:"name"`
	Icon          string    `yaml:"icon" json:"icon"`
	Category      string    `yaml:"category" json:"category"`
	Description   string    `yaml:"description" json:"description"`
	Resources     Resources `yaml:"resources" json:"resources"`
	EstCostPerDay float64   `yaml:"est_cost_per_day" json:"est_cost_per_day"`
	Tags          []string  `yaml:"tags" json:"tags"`
	Compose       string    `yaml:"compose" json:"-"`
}

// Catalog is an immutable template registry.
type Catalog struct {
	byID  map[string]AppTemplate
	order []string
}

// Load reads templates from a yaml file. An empty path loads the
// built-in defaults.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(defaultTemplates()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var doc struct {
		Apps []AppTemplate `yaml:"apps"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if len(doc.Apps) == 0 {
		return nil, fmt.Errorf("catalog file %s contains no apps", path)
	}
	return New(doc.Apps), nil
}

// New builds a catalog from a template slice, preserving order and
// dropping duplicate ids (first wins).
func New(apps []AppTemplate) *Catalog {
	c := &Catalog{byID: make(map[string]AppTemplate, len(apps))}
	for _, app := range apps {
		if _, dup := c.byID[app.ID]; dup {
			continue
		}
		c.byID[app.ID] = app
		c.order = append(c.order, app.ID)
	}
	return c
}

// Get returns the template with the given id.
func (c *Catalog) Get(id string) (AppTemplate, bool) {
	app, ok := c.byID[id]
	return app, ok
}

// List returns templates, optionally filtered by category. The result
// is a copy in load order.
func (c *Catalog) List(category string) []AppTemplate {
	out := make([]AppTemplate, 0, len(c.order))
	for _, id := range c.order {
		app := c.byID[id]
		if category != "" && app.Category != category {
			continue
		}
		out = append(out, app)
	}
	return out
}

// Categories returns the distinct categories in sorted order.
func (c *Catalog) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range c.order {
		cat := c.byID[id].Category
		if cat != "" && !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}
