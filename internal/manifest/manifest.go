// Package manifest reads YAML route manifests for batch application.
//
//	version: 1
//	force: false
//	delete:
//	  - old.example.com
//	proxies:
//	  - domain: api.example.com
//	    target: localhost:8080
//	wildcards:
//	  - base: dev.example.com
//	    subdomains:
//	      - name: app
//	        ports: ["8090"]
//	        host: localhost
package manifest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa911/fastcaddy/internal/utils"
)

// ErrInvalidManifest is returned for unparsable or invalid manifests.
var ErrInvalidManifest = errors.New("invalid manifest")

type Manifest struct {
	Version   int        `yaml:"version" validate:"eq=1"`
	Force     bool       `yaml:"force"`
	Delete    []string   `yaml:"delete" validate:"dive,caddy_host"`
	Proxies   []Proxy    `yaml:"proxies" validate:"dive"`
	Wildcards []Wildcard `yaml:"wildcards" validate:"dive"`
}

type Proxy struct {
	Domain string `yaml:"domain" validate:"required,hostname_rfc1123"`
	Target string `yaml:"target" validate:"required,hostname_port"`
}

type Wildcard struct {
	Base       string      `yaml:"base" validate:"required,hostname_rfc1123"`
	Subdomains []Subdomain `yaml:"subdomains" validate:"dive"`
}

type Subdomain struct {
	Name  string   `yaml:"name" validate:"required,subdomain_label"`
	Ports []string `yaml:"ports" validate:"required,min=1,dive,numeric,upstream_port"`
	Host  string   `yaml:"host" validate:"omitempty,caddy_host"`
}

// FieldError is one failed validation rule.
type FieldError struct {
	Field string
	Tag   string
	Value string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: failed %q (value %q)", e.Field, e.Tag, e.Value)
}

var validate = newValidator()

// stringRules are the custom tags used on manifest fields.
var stringRules = map[string]func(string) bool{
	"caddy_host":      utils.ValidateHost,
	"subdomain_label": utils.ValidateSubdomainLabel,
	"upstream_port":   utils.ValidatePort,
}

func newValidator() *validator.Validate {
	v := validator.New()
	for tag, rule := range stringRules {
		rule := rule
		err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return rule(fl.Field().String())
		})
		if err != nil {
			panic(fmt.Sprintf("manifest: register validation %q: %v", tag, err))
		}
	}
	return v
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a single YAML document. Unknown keys are rejected.
func Parse(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidManifest)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var extra any
	if err := dec.Decode(&extra); err == nil {
		return nil, fmt.Errorf("%w: multiple YAML documents are not allowed", ErrInvalidManifest)
	} else if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	m.normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) normalize() {
	for i := range m.Delete {
		m.Delete[i] = strings.TrimSpace(m.Delete[i])
	}
	for i := range m.Wildcards {
		for j := range m.Wildcards[i].Subdomains {
			ports := m.Wildcards[i].Subdomains[j].Ports
			for k := range ports {
				ports[k] = strings.TrimSpace(ports[k])
			}
		}
	}
}

// Validate checks field rules and reports duplicate route ids.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		fields := FormatValidationError(err)
		if len(fields) == 0 {
			return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		msgs := make([]string, len(fields))
		for i, f := range fields {
			msgs[i] = f.String()
		}
		return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(msgs, "; "))
	}

	seen := make(map[string]bool)
	for _, id := range m.RouteIDs() {
		if seen[id] {
			return fmt.Errorf("%w: route %s listed more than once", ErrInvalidManifest, id)
		}
		seen[id] = true
	}
	return nil
}

// FormatValidationError flattens validator errors.
func FormatValidationError(err error) []FieldError {
	var fields []FieldError
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			fields = append(fields, FieldError{
				Field: strings.TrimPrefix(e.Namespace(), "Manifest."),
				Tag:   e.Tag(),
				Value: fmt.Sprint(e.Value()),
			})
		}
	}
	return fields
}
