// Package library loads playbook, resource, and capability documents from
// a directory of YAML files. It is the boundary to the language front end:
// documents arrive already structured, never as raw playbook source.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"playline/internal/domain"
	"playline/internal/runtime"
)

const (
	playbookSuffix   = ".playbook.yml"
	resourcesFile    = "resources.yml"
	capabilitiesFile = "capabilities.yml"
)

// Library reads definitions from a directory.
type Library struct {
	dir string
}

func New(dir string) *Library {
	return &Library{dir: dir}
}

// Playbook loads <dir>/<name>.playbook.yml.
func (l *Library) Playbook(name string) (domain.PlaybookDefinition, error) {
	path := filepath.Join(l.dir, name+playbookSuffix)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.PlaybookDefinition{}, fmt.Errorf("playbook %s not found in %s", name, l.dir)
		}
		return domain.PlaybookDefinition{}, err
	}
	var doc playbookDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.PlaybookDefinition{}, fmt.Errorf("invalid playbook yaml %s: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = name
	}
	def := domain.PlaybookDefinition{Name: doc.Name}
	for _, step := range doc.Steps {
		def.Steps = append(def.Steps, domain.StepDefinition{
			Name:         step.Name,
			Method:       step.Method,
			Requirements: toRequirements(step.Requirements),
		})
	}
	return def, nil
}

// ListPlaybooks returns playbook names found in the directory, sorted.
func (l *Library) ListPlaybooks() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), playbookSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), playbookSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// Bundle loads resources.yml and capabilities.yml into an initialization
// bundle. Missing files contribute empty sections.
func (l *Library) Bundle() (runtime.InitBundle, error) {
	var bundle runtime.InitBundle

	if data, err := os.ReadFile(filepath.Join(l.dir, resourcesFile)); err == nil {
		var doc resourcesDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return bundle, fmt.Errorf("invalid %s: %w", resourcesFile, err)
		}
		for _, def := range doc.Definitions {
			bundle.Resources = append(bundle.Resources, domain.ResourceDefinition{
				Name:            def.Name,
				Extends:         def.Extends,
				Characteristics: def.Characteristics,
			})
		}
		for _, inst := range doc.Instances {
			bundle.Instances = append(bundle.Instances, runtime.InstanceInit{
				Name:    inst.Name,
				Payload: inst.Payload,
			})
		}
	} else if !os.IsNotExist(err) {
		return bundle, err
	}

	if data, err := os.ReadFile(filepath.Join(l.dir, capabilitiesFile)); err == nil {
		var doc capabilitiesDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return bundle, fmt.Errorf("invalid %s: %w", capabilitiesFile, err)
		}
		for _, def := range doc.Capabilities {
			bundle.Capabilities = append(bundle.Capabilities, def.toDomain())
		}
		for _, resp := range doc.Responsibilities {
			bundle.Responsibilities = append(bundle.Responsibilities, domain.ResponsibilityDefinition{
				CapabilityDefinition: resp.capabilityDoc.toDomain(),
				MonitoringType:       resp.MonitoringType,
			})
		}
		for _, p := range doc.Providers {
			bundle.Providers = append(bundle.Providers, domain.CapabilityProvider{
				ID:           p.ID,
				Name:         p.Name,
				Type:         p.Type,
				Capabilities: p.Capabilities,
				Availability: domain.ProviderAvailability(p.Availability),
				Metadata:     p.Metadata,
			})
		}
	} else if !os.IsNotExist(err) {
		return bundle, err
	}

	return bundle, nil
}

type playbookDoc struct {
	Name  string `yaml:"name"`
	Steps []struct {
		Name         string           `yaml:"name"`
		Method       string           `yaml:"method"`
		Requirements []requirementDoc `yaml:"requirements"`
	} `yaml:"steps"`
}

type requirementDoc struct {
	Name            string         `yaml:"name"`
	Characteristics map[string]any `yaml:"characteristics"`
	Priority        []struct {
		Specific        string         `yaml:"specific"`
		Characteristics map[string]any `yaml:"characteristics"`
		Emergency       map[string]any `yaml:"emergency"`
		Warning         string         `yaml:"warning"`
	} `yaml:"priority"`
}

func toRequirements(docs []requirementDoc) []domain.ResourceRequirement {
	var reqs []domain.ResourceRequirement
	for _, doc := range docs {
		req := domain.ResourceRequirement{
			Name:            doc.Name,
			Characteristics: doc.Characteristics,
		}
		for _, alt := range doc.Priority {
			req.Priority = append(req.Priority, domain.PriorityAlternative{
				Specific:        alt.Specific,
				Characteristics: alt.Characteristics,
				Emergency:       alt.Emergency,
				Warning:         alt.Warning,
			})
		}
		reqs = append(reqs, req)
	}
	return reqs
}

type resourcesDoc struct {
	Definitions []struct {
		Name            string         `yaml:"name"`
		Extends         string         `yaml:"extends"`
		Characteristics map[string]any `yaml:"characteristics"`
	} `yaml:"definitions"`
	Instances []struct {
		Name    string `yaml:"name"`
		Payload any    `yaml:"payload"`
	} `yaml:"instances"`
}

type fieldDoc struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

type capabilityDoc struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Method      string     `yaml:"method"`
	Inputs      []fieldDoc `yaml:"inputs"`
	Outputs     []fieldDoc `yaml:"outputs"`
	Provider    string     `yaml:"provider"`
	Tags        []string   `yaml:"tags"`
}

func (d capabilityDoc) toDomain() domain.CapabilityDefinition {
	return domain.CapabilityDefinition{
		Name:        d.Name,
		Description: d.Description,
		Method:      d.Method,
		Inputs:      toFields(d.Inputs),
		Outputs:     toFields(d.Outputs),
		Provider:    d.Provider,
		Tags:        d.Tags,
	}
}

func toFields(docs []fieldDoc) []domain.Field {
	var fields []domain.Field
	for _, doc := range docs {
		fields = append(fields, domain.Field{Name: doc.Name, Type: doc.Type, Required: doc.Required})
	}
	return fields
}

type capabilitiesDoc struct {
	Capabilities     []capabilityDoc `yaml:"capabilities"`
	Responsibilities []struct {
		capabilityDoc  `yaml:",inline"`
		MonitoringType string `yaml:"monitoring_type"`
	} `yaml:"responsibilities"`
	Providers []struct {
		ID           string            `yaml:"id"`
		Name         string            `yaml:"name"`
		Type         string            `yaml:"type"`
		Capabilities []string          `yaml:"capabilities"`
		Availability string            `yaml:"availability"`
		Metadata     map[string]string `yaml:"metadata"`
	} `yaml:"providers"`
}
