package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mayankgupta007/min-max-shopify-sub000/pkg/dom"
)

//go:embed default_profile.yaml
var defaultProfileYAML []byte

// ThemeProfile describes how to find things on a storefront theme.
type ThemeProfile struct {
	Name               string              `yaml:"name" json:"name"`
	ProductRoutePrefix string              `yaml:"product_route_prefix" json:"product_route_prefix"`
	MutationPaths      []string            `yaml:"mutation_paths" json:"mutation_paths"`
	Roles              map[string][]string `yaml:"roles" json:"roles"`
	Labels             LabelConfig         `yaml:"labels" json:"labels"`
}

// LabelConfig holds the user-facing strings applied by the gate.
type LabelConfig struct {
	Pending string `yaml:"pending" json:"pending"`
	Retry   string `yaml:"retry" json:"retry"`
	Dismiss string `yaml:"dismiss" json:"dismiss"`
}

// DefaultProfile returns the built-in profile covering common themes.
func DefaultProfile() *ThemeProfile {
	p, err := ParseProfile(defaultProfileYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded theme profile is invalid: %v", err))
	}
	return p
}

// LoadProfile reads a profile from path. Unset fields fall back to the
// built-in profile; roles listed in the file replace the built-in list for
// that role.
func LoadProfile(path string) (*ThemeProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	return p.merge(DefaultProfile()), nil
}

// ParseProfile decodes a profile document.
func ParseProfile(data []byte) (*ThemeProfile, error) {
	var p ThemeProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *ThemeProfile) merge(base *ThemeProfile) *ThemeProfile {
	out := *base
	if p.Name != "" {
		out.Name = p.Name
	}
	if p.ProductRoutePrefix != "" {
		out.ProductRoutePrefix = p.ProductRoutePrefix
	}
	if len(p.MutationPaths) > 0 {
		out.MutationPaths = p.MutationPaths
	}
	out.Roles = make(map[string][]string, len(base.Roles))
	for k, v := range base.Roles {
		out.Roles[k] = v
	}
	for k, v := range p.Roles {
		out.Roles[k] = v
	}
	if p.Labels.Pending != "" {
		out.Labels.Pending = p.Labels.Pending
	}
	if p.Labels.Retry != "" {
		out.Labels.Retry = p.Labels.Retry
	}
	if p.Labels.Dismiss != "" {
		out.Labels.Dismiss = p.Labels.Dismiss
	}
	return &out
}

// Matchers compiles the role predicates.
func (p *ThemeProfile) Matchers() (*dom.Matchers, error) {
	rules := make(map[dom.Role][]string, len(p.Roles))
	for k, v := range p.Roles {
		rules[dom.Role(strings.TrimSpace(k))] = v
	}
	return dom.NewMatchers(rules)
}
