package provision

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrTemplateNotFound is returned for an unknown template name
var ErrTemplateNotFound = errors.New("storage template not found")

// Templates is a registry of named storage templates
type Templates struct {
	mu        sync.RWMutex
	templates map[string]types.StorageTemplate
}

// NewTemplates builds a registry, rejecting unnamed, unsized or duplicate templates
func NewTemplates(list []types.StorageTemplate) (*Templates, error) {
	t := &Templates{templates: make(map[string]types.StorageTemplate, len(list))}
	for _, template := range list {
		if err := t.Add(template); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add registers template
func (t *Templates) Add(template types.StorageTemplate) error {
	if template.Name == "" {
		return fmt.Errorf("storage template name is required")
	}
	if template.Size <= 0 {
		return fmt.Errorf("storage template %s: size must be positive", template.Name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.templates[template.Name]; exists {
		return fmt.Errorf("storage template %s defined twice", template.Name)
	}
	t.templates[template.Name] = template
	return nil
}

// Get returns a copy of the named template
func (t *Templates) Get(name string) (*types.StorageTemplate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	template, ok := t.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	if template.Custom != nil {
		custom := make(map[string]string, len(template.Custom))
		for k, v := range template.Custom {
			custom[k] = v
		}
		template.Custom = custom
	}
	return &template, nil
}

// Names returns the registered template names in order
func (t *Templates) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.templates))
	for name := range t.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
