// Package kiln holds the embedded API description the daemon serves at
// /spec.yaml and /spec.json.
package kiln

import _ "embed"

//go:embed openapi.yaml
var OpenAPIYAML []byte
