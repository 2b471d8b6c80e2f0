// Package buildspec parses, merges, and serializes the declarative
// provisioning document that drives image builds.
//
// A document names a base image and an ordered list of shell commands:
//
//	build_docker_image:
//	  base_image: "ubuntu:16.04"
//	build_image:
//	  commands:
//	    - apt-get update
//
// The commands key also accepts an $extend form, which appends to an
// inherited default command list instead of replacing it:
//
//	build_image:
//	  commands:
//	    $extend:
//	      - apt-get update
package buildspec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CommandList is an ordered sequence of shell commands. Order is
// significant and preserved exactly as written: nothing in the pipeline
// reorders, deduplicates, or filters it.
type CommandList []string

// Spec is a parsed provisioning document. Parse returns a fresh value
// each call and nothing mutates a Spec afterwards.
type Spec struct {
	// BaseImage is the image reference the build starts from.
	BaseImage string

	// Commands run in order during the build, each as its own shell
	// invocation.
	Commands CommandList

	// Extend marks the $extend form: Commands append to an inherited
	// default list instead of replacing it. Resolved by Merge.
	Extend bool
}

// document is the on-disk shape. ghodss/yaml routes YAML through
// encoding/json, so the json tags below define the schema.
type document struct {
	BuildDockerImage *baseImageSection `json:"build_docker_image,omitempty"`
	BuildImage       *commandsSection  `json:"build_image,omitempty"`
}

type baseImageSection struct {
	BaseImage string `json:"base_image"`
}

type commandsSection struct {
	Commands commandsNode `json:"commands"`
}

const extendKey = "$extend"

// commandsNode accepts either a plain sequence or a mapping whose
// single $extend key holds a sequence. A nil items slice means the
// commands key was absent, which Merge treats differently from an
// explicitly empty list.
type commandsNode struct {
	items  []string
	extend bool
}

func (n *commandsNode) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped map[string][]string
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return fmt.Errorf("%s must hold a list of commands: %w", extendKey, err)
		}
		items, ok := wrapped[extendKey]
		if !ok || len(wrapped) != 1 {
			return fmt.Errorf("commands mapping must contain exactly the %s key", extendKey)
		}
		n.items = items
		n.extend = true
		return nil
	}

	var items []string
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return fmt.Errorf("commands must be a list of strings: %w", err)
	}
	n.items = items
	n.extend = false
	return nil
}

func (n commandsNode) MarshalJSON() ([]byte, error) {
	if n.extend {
		items := n.items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(map[string][]string{extendKey: items})
	}
	return json.Marshal(n.items)
}
