package compose

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Descriptor is a structurally-parsed compose file.
//
// # Description
//
// The installer only needs to know which services the descriptor
// declares, which compose profiles each service belongs to, and whether
// a service is pulled or built locally. The rest of the compose schema
// is left to the compose tool itself.
type Descriptor struct {
	// Services maps service name to its declaration.
	Services map[string]DescriptorService
}

// DescriptorService is one service entry from the compose file.
type DescriptorService struct {
	// Name is the compose service name.
	Name string

	// ContainerName is the declared container_name, if any.
	ContainerName string

	// Image is the image reference. Empty for build-only services.
	Image string

	// HasBuild indicates the service declares a build section.
	HasBuild bool

	// Profiles lists the compose profiles the service belongs to.
	Profiles []string
}

// LoadDescriptor parses the compose file at path.
//
// # Description
//
// Parses the descriptor as a structured YAML document and extracts the
// service declarations the installer cares about. Unknown keys are
// ignored, so descriptor extensions don't break parsing.
//
// # Outputs
//
//   - *Descriptor: Parsed service declarations
//   - error: ErrComposeFileMissing if the file doesn't exist, or a
//     parse error for malformed YAML
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrComposeFileMissing, path)
		}
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	var doc struct {
		Services map[string]struct {
			ContainerName string   `yaml:"container_name"`
			Image         string   `yaml:"image"`
			Build         any      `yaml:"build"`
			Profiles      []string `yaml:"profiles"`
		} `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse compose file %s: %w", path, err)
	}

	d := &Descriptor{Services: make(map[string]DescriptorService, len(doc.Services))}
	for name, svc := range doc.Services {
		d.Services[name] = DescriptorService{
			Name:          name,
			ContainerName: svc.ContainerName,
			Image:         svc.Image,
			HasBuild:      svc.Build != nil,
			Profiles:      svc.Profiles,
		}
	}

	return d, nil
}

// HasService reports whether the descriptor declares the named service.
func (d *Descriptor) HasService(name string) bool {
	_, ok := d.Services[name]
	return ok
}

// Service returns the declaration for the named service.
func (d *Descriptor) Service(name string) (DescriptorService, error) {
	svc, ok := d.Services[name]
	if !ok {
		return DescriptorService{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return svc, nil
}

// ServiceNames returns all declared service names, sorted.
func (d *Descriptor) ServiceNames() []string {
	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MissingServices returns the expected service names the descriptor
// does not declare, in the order given.
func (d *Descriptor) MissingServices(expected []string) []string {
	var missing []string
	for _, name := range expected {
		if !d.HasService(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// ContainerNameFor returns the container name the compose tool will use
// for the named service: the declared container_name, or the service
// name itself when none is declared.
func (d *Descriptor) ContainerNameFor(service string) string {
	if svc, ok := d.Services[service]; ok && svc.ContainerName != "" {
		return svc.ContainerName
	}
	return service
}
