package buildspec

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/distribution/reference"
	"github.com/ghodss/yaml"
)

// Parse decodes a provisioning document. Malformed or invalid
// documents yield a *ParseError and no partial result. Unknown
// top-level keys are tolerated so older daemons accept newer
// documents.
func Parse(data []byte) (*Spec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Err: err}
	}

	spec := &Spec{}
	if doc.BuildDockerImage != nil {
		spec.BaseImage = strings.TrimSpace(doc.BuildDockerImage.BaseImage)
	}
	if doc.BuildImage != nil {
		spec.Commands = CommandList(doc.BuildImage.Commands.items)
		spec.Extend = doc.BuildImage.Commands.extend
	}

	if err := spec.Validate(); err != nil {
		return nil, &ParseError{Err: err}
	}
	return spec, nil
}

// Load reads and parses the document at path. I/O failures surface as
// *ParseError too, so callers handle one error shape.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	spec, err := Parse(data)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return nil, err
	}
	return spec, nil
}

// Validate checks that the base image parses as a normalized OCI
// reference and that every command is non-blank. Command text is
// otherwise opaque: nothing inspects or rewrites what the shell runs.
func (s *Spec) Validate() error {
	if s.BaseImage == "" {
		return ErrMissingBaseImage
	}
	if _, err := reference.ParseNormalizedNamed(s.BaseImage); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidBaseImage, s.BaseImage, err)
	}
	for i, cmd := range s.Commands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("%w (position %d)", ErrBlankCommand, i+1)
		}
	}
	return nil
}

// Encode serializes the spec back to the document format. Parsing the
// result yields an equivalent spec, including the $extend form.
func (s *Spec) Encode() ([]byte, error) {
	doc := document{
		BuildDockerImage: &baseImageSection{BaseImage: s.BaseImage},
	}
	if s.Commands != nil || s.Extend {
		doc.BuildImage = &commandsSection{
			Commands: commandsNode{items: s.Commands, extend: s.Extend},
		}
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("marshal provisioning document: %w", err)
	}
	return data, nil
}
