package library

import (
	"os"
	"path/filepath"
	"testing"

	"playline/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPlaybookParsing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales.playbook.yml", `name: sales
steps:
  - name: qualify lead
    method: score the lead against the qualification rubric
    requirements:
      - name: rep
        priority:
          - specific: jane_doe
          - characteristics:
              experience_years: ">2"
          - emergency:
              type: person
            warning: using any available person
  - name: close deal
    method: negotiate and close
`)

	lib := New(dir)
	def, err := lib.Playbook("sales")
	if err != nil {
		t.Fatalf("Playbook: %v", err)
	}
	if def.Name != "sales" || len(def.Steps) != 2 {
		t.Fatalf("def = %+v", def)
	}
	reqs := def.Steps[0].Requirements
	if len(reqs) != 1 || reqs[0].Name != "rep" || len(reqs[0].Priority) != 3 {
		t.Fatalf("requirements = %+v", reqs)
	}
	if reqs[0].Priority[0].Specific != "jane_doe" {
		t.Fatalf("priority[0] = %+v", reqs[0].Priority[0])
	}
	if reqs[0].Priority[1].Characteristics["experience_years"] != ">2" {
		t.Fatalf("priority[1] = %+v", reqs[0].Priority[1])
	}
	if reqs[0].Priority[2].Warning != "using any available person" {
		t.Fatalf("priority[2] = %+v", reqs[0].Priority[2])
	}
}

func TestPlaybookNotFound(t *testing.T) {
	lib := New(t.TempDir())
	if _, err := lib.Playbook("missing"); err == nil {
		t.Fatalf("expected error for missing playbook")
	}
}

func TestListPlaybooks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.playbook.yml", "name: b\n")
	writeFile(t, dir, "a.playbook.yml", "name: a\n")
	writeFile(t, dir, "resources.yml", "definitions: []\n")

	names, err := New(dir).ListPlaybooks()
	if err != nil {
		t.Fatalf("ListPlaybooks: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
}

func TestBundleParsing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "resources.yml", `definitions:
  - name: person
    characteristics:
      type: person
  - name: jane_doe
    extends: person
    characteristics:
      experience_years: 5
instances:
  - name: jane_doe
    payload:
      email: jane@example.com
`)
	writeFile(t, dir, "capabilities.yml", `capabilities:
  - name: qualify-lead
    description: Qualify an inbound lead
    inputs:
      - name: lead_id
        type: string
        required: true
    outputs:
      - name: qualified
        type: bool
responsibilities:
  - name: monitor-leads
    description: Watch lead quality
    monitoring_type: continuous
providers:
  - id: p1
    name: sales bot
    capabilities: [qualify-lead]
    availability: always
    metadata:
      region: us
`)

	bundle, err := New(dir).Bundle()
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if len(bundle.Resources) != 2 || bundle.Resources[1].Extends != "person" {
		t.Fatalf("resources = %+v", bundle.Resources)
	}
	if len(bundle.Instances) != 1 || bundle.Instances[0].Name != "jane_doe" {
		t.Fatalf("instances = %+v", bundle.Instances)
	}
	if len(bundle.Capabilities) != 1 {
		t.Fatalf("capabilities = %+v", bundle.Capabilities)
	}
	def := bundle.Capabilities[0]
	if def.Name != "qualify-lead" || len(def.Inputs) != 1 || !def.Inputs[0].Required {
		t.Fatalf("capability = %+v", def)
	}
	if len(bundle.Responsibilities) != 1 || bundle.Responsibilities[0].MonitoringType != "continuous" {
		t.Fatalf("responsibilities = %+v", bundle.Responsibilities)
	}
	if len(bundle.Providers) != 1 || bundle.Providers[0].Availability != domain.AvailabilityAlways {
		t.Fatalf("providers = %+v", bundle.Providers)
	}
}

func TestBundleMissingFiles(t *testing.T) {
	bundle, err := New(t.TempDir()).Bundle()
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if len(bundle.Resources) != 0 || len(bundle.Capabilities) != 0 {
		t.Fatalf("bundle = %+v", bundle)
	}
}
