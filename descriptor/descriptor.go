// Package descriptor loads the declarative metadata of a deployment unit:
// its bean classes, required extensions and component declarations.
//
// A descriptor is a YAML document:
//
//	symbolicName: com.example.app
//	beans: [com.example.Clock, com.example.Greeter]
//	extensions: ["(osgi.cdi.extension=logging)"]
//	components:
//	  - name: greeter
//	    type: single
//	    beans: [com.example.Greeter]
//	    configurationPolicy: required
//	    references:
//	      - name: store
//	        service: com.example.Store
//	        cardinality: "1..1"
//	        policyOption: greedy
package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/junioryono/ccr/dto"
)

// delim separates nested koanf keys; property keys keep their dots.
const delim = "/"

// Component types accepted in descriptors.
const (
	TypeSingle  = "single"
	TypeFactory = "factory"
)

// Bundle describes one deployment unit.
type Bundle struct {
	ID           int64  `yaml:"id"`
	SymbolicName string `yaml:"symbolicName"`
	Location     string `yaml:"location"`
	// Beans lists every bean class of the unit. Beans not claimed by a
	// component belong to the container component.
	Beans []string `yaml:"beans"`
	// Extensions are service filters selecting required CDI extensions.
	Extensions []string `yaml:"extensions"`
	// Properties are the container component properties.
	Properties map[string]any `yaml:"properties"`
	Components []Component    `yaml:"components"`
}

// Component declares one SINGLE or FACTORY component.
type Component struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Beans are the component's bean classes; the first one is the
	// component bean.
	Beans []string `yaml:"beans"`
	// ConfigurationPIDs default to the component name. For factory
	// components the first PID is the factory PID.
	ConfigurationPIDs   []string       `yaml:"configurationPid"`
	ConfigurationPolicy string         `yaml:"configurationPolicy"`
	Properties          map[string]any `yaml:"properties"`
	References          []Reference    `yaml:"references"`
}

// Reference declares a service dependency explicitly. Injection points of
// the component's beans bind to it when they denote the same dependency.
type Reference struct {
	Name         string `yaml:"name"`
	Service      string `yaml:"service"`
	Cardinality  string `yaml:"cardinality"`
	Policy       string `yaml:"policy"`
	PolicyOption string `yaml:"policyOption"`
	Target       string `yaml:"target"`
	Collection   string `yaml:"collection"`
}

// LoadFile reads a descriptor from a YAML file.
func LoadFile(path string) (*Bundle, error) {
	k := koanf.New(delim)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load descriptor from %q: %w", path, err)
	}
	return unmarshal(k)
}

// Parse reads a descriptor from YAML bytes.
func Parse(data []byte) (*Bundle, error) {
	k := koanf.New(delim)
	if err := k.Load(bytesProvider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) (*Bundle, error) {
	var b Bundle
	if err := k.UnmarshalWithConf("", &b, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks the structure of the descriptor. Bean class existence is
// checked later, during discovery.
func (b *Bundle) Validate() error {
	if b.SymbolicName == "" {
		return errors.New("descriptor: symbolicName is required")
	}

	var errs []error
	seen := make(map[string]bool)
	for i, c := range b.Components {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("descriptor: component %d has no name", i))
			continue
		}
		if seen[c.Name] || c.Name == b.SymbolicName {
			errs = append(errs, fmt.Errorf("descriptor: duplicate component name %q", c.Name))
		}
		seen[c.Name] = true

		if _, err := ParseType(c.Type); err != nil {
			errs = append(errs, fmt.Errorf("descriptor: component %q: %w", c.Name, err))
		}
		if _, err := ParseConfigurationPolicy(c.ConfigurationPolicy); err != nil {
			errs = append(errs, fmt.Errorf("descriptor: component %q: %w", c.Name, err))
		}
		for _, r := range c.References {
			if err := r.validate(); err != nil {
				errs = append(errs, fmt.Errorf("descriptor: component %q: %w", c.Name, err))
			}
		}
	}

	return errors.Join(errs...)
}

func (r Reference) validate() error {
	if r.Name == "" || r.Service == "" {
		return errors.New("reference requires name and service")
	}
	if _, _, err := ParseCardinality(r.Cardinality); err != nil {
		return fmt.Errorf("reference %q: %w", r.Name, err)
	}
	if _, err := ParsePolicy(r.Policy); err != nil {
		return fmt.Errorf("reference %q: %w", r.Name, err)
	}
	if _, err := ParsePolicyOption(r.PolicyOption); err != nil {
		return fmt.Errorf("reference %q: %w", r.Name, err)
	}
	if _, err := ParseCollection(r.Collection); err != nil {
		return fmt.Errorf("reference %q: %w", r.Name, err)
	}
	return nil
}

// ParseType maps a descriptor component type; empty means single.
func ParseType(s string) (dto.ComponentType, error) {
	switch strings.ToLower(s) {
	case "", TypeSingle:
		return dto.Single, nil
	case TypeFactory:
		return dto.Factory, nil
	default:
		return 0, fmt.Errorf("unknown component type %q", s)
	}
}

// ParseConfigurationPolicy maps a policy; empty means optional.
func ParseConfigurationPolicy(s string) (dto.ConfigurationPolicy, error) {
	switch strings.ToLower(s) {
	case "", "optional":
		return dto.Optional, nil
	case "required":
		return dto.Required, nil
	default:
		return 0, fmt.Errorf("unknown configuration policy %q", s)
	}
}

// ParseCardinality maps "0..1", "1..1", "0..n" and "1..n"; empty means "1..1".
func ParseCardinality(s string) (minimum int, maximum dto.MaximumCardinality, err error) {
	switch strings.ToLower(s) {
	case "", "1..1":
		return 1, dto.One, nil
	case "0..1":
		return 0, dto.One, nil
	case "0..n":
		return 0, dto.Many, nil
	case "1..n":
		return 1, dto.Many, nil
	default:
		return 0, 0, fmt.Errorf("unknown cardinality %q", s)
	}
}

// ParsePolicy maps a reference policy; empty means static.
func ParsePolicy(s string) (dto.ReferencePolicy, error) {
	switch strings.ToLower(s) {
	case "", "static":
		return dto.Static, nil
	case "dynamic":
		return dto.Dynamic, nil
	default:
		return 0, fmt.Errorf("unknown reference policy %q", s)
	}
}

// ParsePolicyOption maps a reference policy option; empty means reluctant.
func ParsePolicyOption(s string) (dto.ReferencePolicyOption, error) {
	switch strings.ToLower(s) {
	case "", "reluctant":
		return dto.Reluctant, nil
	case "greedy":
		return dto.Greedy, nil
	default:
		return 0, fmt.Errorf("unknown reference policy option %q", s)
	}
}

// ParseCollection maps a collection shape; empty means service.
func ParseCollection(s string) (dto.CollectionType, error) {
	switch strings.ToLower(s) {
	case "", "service":
		return dto.CollectionService, nil
	case "reference":
		return dto.CollectionReference, nil
	case "properties":
		return dto.CollectionProperties, nil
	case "tuple":
		return dto.CollectionTuple, nil
	case "service_objects", "serviceobjects":
		return dto.CollectionServiceObjects, nil
	case "observer":
		return dto.CollectionObserver, nil
	default:
		return 0, fmt.Errorf("unknown collection type %q", s)
	}
}

// bytesProvider is a koanf.Provider over an in-memory document.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) { return b, nil }

func (b bytesProvider) Read() (map[string]any, error) {
	return nil, errors.New("descriptor: bytes provider does not support Read")
}
