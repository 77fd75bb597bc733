package firewall

import (
	"errors"
	"fmt"
	"strings"

	"go.hackfix.me/wgfence/firewall/nft"
)

// ErrUnsafeScript is returned by ValidateScript when the script contains a
// destructive shell idiom.
var ErrUnsafeScript = errors.New("unsafe script")

var unsafeIdioms = []string{"rm -rf", "dd if="}

// ValidateScript is a last sanity check on generated script text before it is
// written or executed. It rejects text containing destructive shell idioms,
// and non-empty text that never invokes nft.
func ValidateScript(script string) error {
	for _, idiom := range unsafeIdioms {
		if strings.Contains(script, idiom) {
			return fmt.Errorf("%w: contains '%s'", ErrUnsafeScript, idiom)
		}
	}

	if strings.TrimSpace(script) != "" && !strings.Contains(script, "nft") {
		return errors.New("invalid script: missing nft commands")
	}

	return nil
}

// scriptWriter accumulates a bash script with the strict-mode preamble.
type scriptWriter struct {
	b strings.Builder
}

func newScript() *scriptWriter {
	s := &scriptWriter{}
	s.b.WriteString("#!/usr/bin/env bash\nset -euo pipefail\n\n")
	return s
}

func (s *scriptWriter) line(format string, args ...any) {
	fmt.Fprintf(&s.b, format, args...)
	s.b.WriteString("\n")
}

func (s *scriptWriter) blank() {
	s.b.WriteString("\n")
}

// deleteTable emits an idempotent table deletion.
func (s *scriptWriter) deleteTable(t *nft.Table) {
	s.line("nft delete table %s %s 2>/dev/null || true", t.Family, t.Name)
}

// load renders the table and pipes it into nft through a heredoc. A quoted
// heredoc delimiter disables shell expansion; expand is only used when the
// document refers to shell variables resolved at execution time.
func (s *scriptWriter) load(t *nft.Table, expand bool) error {
	doc, err := nft.Render(t)
	if err != nil {
		return fmt.Errorf("failed rendering table %s: %w", t.Name, err)
	}
	delim := "'EOF'"
	if expand {
		delim = "EOF"
	}
	s.line("nft -f - <<%s", delim)
	s.b.WriteString(doc)
	s.line("EOF")
	return nil
}

func (s *scriptWriter) String() string {
	return s.b.String()
}
