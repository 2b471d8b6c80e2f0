package buildspec

import (
	"fmt"
	"io"
	"strings"
)

// Render writes the Dockerfile equivalent of the spec: a FROM line for
// the base image and one RUN per command, in order.
func (s *Spec) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", s.BaseImage)
	if len(s.Commands) > 0 {
		b.WriteString("\n")
	}
	for _, cmd := range s.Commands {
		fmt.Fprintf(&b, "RUN %s\n", cmd)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write dockerfile: %w", err)
	}
	return nil
}
