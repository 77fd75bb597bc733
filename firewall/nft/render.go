package nft

import (
	"fmt"
	"strings"
)

// Render returns the table in `nft -f` syntax. Identifiers and set elements
// are validated, and comments are sanitized with Comment.
func Render(t *Table) (string, error) {
	if err := t.validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "table %s %s {\n", t.Family, t.Name)

	for i, s := range t.Sets {
		if i > 0 {
			b.WriteString("\n")
		}
		renderSet(&b, s)
	}

	for i, c := range t.Chains {
		if i > 0 || len(t.Sets) > 0 {
			b.WriteString("\n")
		}
		renderChain(&b, c)
	}

	b.WriteString("}\n")

	return b.String(), nil
}

func renderSet(b *strings.Builder, s *Set) {
	fmt.Fprintf(b, "\tset %s {\n", s.Name)
	fmt.Fprintf(b, "\t\ttype %s\n", s.Type)
	if s.Interval {
		b.WriteString("\t\tflags interval\n")
	}
	// nft rejects an empty element list.
	if len(s.Elements) > 0 {
		fmt.Fprintf(b, "\t\telements = { %s }\n", strings.Join(s.Elements, ", "))
	}
	b.WriteString("\t}\n")
}

func renderChain(b *strings.Builder, c *Chain) {
	fmt.Fprintf(b, "\tchain %s {\n", c.Name)
	if c.Hook != "" {
		fmt.Fprintf(b, "\t\ttype %s hook %s priority %d;", c.Type, c.Hook, c.Priority)
		if c.Policy != "" {
			fmt.Fprintf(b, " policy %s;", c.Policy)
		}
		b.WriteString("\n")
	}
	for _, r := range c.Rules {
		b.WriteString("\t\t")
		b.WriteString(r.Expr)
		if cm := Comment(r.Comment); cm != "" {
			fmt.Fprintf(b, " comment %q", cm)
		}
		b.WriteString("\n")
	}
	b.WriteString("\t}\n")
}

func (t *Table) validate() error {
	switch t.Family {
	case FamilyIP, FamilyINet:
	default:
		return fmt.Errorf("unsupported table family '%s'", t.Family)
	}
	if err := validateIdentifier("table", t.Name); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, s := range t.Sets {
		if err := validateIdentifier("set", s.Name); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate set name '%s' in table %s", s.Name, t.Name)
		}
		seen[s.Name] = true

		switch s.Type {
		case SetTypeIPv4Addr, SetTypeInetService:
		default:
			return fmt.Errorf("unsupported type '%s' for set %s", s.Type, s.Name)
		}
		for _, el := range s.Elements {
			if !elementRx.MatchString(el) {
				return fmt.Errorf("invalid element '%s' in set %s", el, s.Name)
			}
		}
	}

	for _, c := range t.Chains {
		if err := validateIdentifier("chain", c.Name); err != nil {
			return err
		}
		if c.Hook == "" {
			if c.Policy != "" {
				return fmt.Errorf("chain %s: policy requires a hook", c.Name)
			}
			continue
		}
		switch c.Type {
		case ChainTypeFilter, ChainTypeNAT:
		default:
			return fmt.Errorf("chain %s: unsupported type '%s'", c.Name, c.Type)
		}
		switch c.Policy {
		case "", "accept", "drop":
		default:
			return fmt.Errorf("chain %s: unsupported policy '%s'", c.Name, c.Policy)
		}
	}

	return nil
}

func validateIdentifier(kind, name string) error {
	if !identifierRx.MatchString(name) {
		return fmt.Errorf("invalid %s name '%s'", kind, name)
	}
	return nil
}
