package auth

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// OwnershipRule restricts callers to their own records unless their role is in Bypass.
type OwnershipRule struct {
	Bypass []Role `yaml:"bypass"`
}

// Rule is the access declaration of one endpoint.
type Rule struct {
	Roles     []Role         `yaml:"roles"`
	Ownership *OwnershipRule `yaml:"ownership,omitempty"`
}

// Allows reports whether role is in the allowed set.
func (r Rule) Allows(role Role) bool {
	return containsRole(r.Roles, role)
}

// NeedsOwnership reports whether a caller with role must pass the ownership check.
func (r Rule) NeedsOwnership(role Role) bool {
	return r.Ownership != nil && !containsRole(r.Ownership.Bypass, role)
}

// Policy maps endpoint names to rules.
type Policy struct {
	rules map[string]Rule
}

type policyDocument struct {
	Endpoints map[string]Rule `yaml:"endpoints"`
}

// DefaultPolicy returns the built-in endpoint table.
func DefaultPolicy() *Policy {
	p, err := LoadPolicy(strings.NewReader(string(defaultPolicyYAML)))
	if err != nil {
		panic(fmt.Sprintf("auth: embedded policy: %v", err))
	}
	return p
}

// LoadPolicyFile reads a policy document from path.
func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy: %w", err)
	}
	defer f.Close()
	return LoadPolicy(f)
}

// LoadPolicy decodes and validates a YAML policy document.
func LoadPolicy(r io.Reader) (*Policy, error) {
	var doc policyDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return NewPolicy(doc.Endpoints)
}

// NewPolicy validates rules and builds a Policy.
func NewPolicy(rules map[string]Rule) (*Policy, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: policy declares no endpoints", ErrInvalidInput)
	}
	out := make(map[string]Rule, len(rules))
	for name, rule := range rules {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty endpoint name", ErrInvalidInput)
		}
		if len(rule.Roles) == 0 {
			return nil, fmt.Errorf("%w: endpoint %s allows no roles", ErrInvalidInput, name)
		}
		roles, err := normalizeRoles(rule.Roles)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", name, err)
		}
		rule.Roles = roles
		if rule.Ownership != nil {
			bypass, err := normalizeRoles(rule.Ownership.Bypass)
			if err != nil {
				return nil, fmt.Errorf("endpoint %s ownership: %w", name, err)
			}
			rule.Ownership = &OwnershipRule{Bypass: bypass}
		}
		out[name] = rule
	}
	return &Policy{rules: out}, nil
}

// Rule returns the declaration for endpoint. Unknown endpoints report false.
func (p *Policy) Rule(endpoint string) (Rule, bool) {
	if p == nil {
		return Rule{}, false
	}
	r, ok := p.rules[endpoint]
	return r, ok
}

// Endpoints lists the declared endpoint names in order.
func (p *Policy) Endpoints() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.rules))
	for name := range p.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeRoles(in []Role) ([]Role, error) {
	out := make([]Role, 0, len(in))
	for _, r := range in {
		parsed, err := ParseRole(string(r))
		if err != nil {
			return nil, err
		}
		if !containsRole(out, parsed) {
			out = append(out, parsed)
		}
	}
	return out, nil
}

func containsRole(set []Role, role Role) bool {
	for _, r := range set {
		if r == role {
			return true
		}
	}
	return false
}
