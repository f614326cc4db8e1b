// Package qarax embeds the control plane's OpenAPI document so the binary
// can serve and validate against it without a filesystem dependency.
package qarax

import _ "embed"

//go:embed api/openapi.yaml
var OpenAPIYAML []byte
