// Package configs embeds the configuration template written by
// `apptindex config init`.
package configs

import _ "embed"

// ConfigTemplate is the commented user configuration.
//
//go:embed config.example.yaml
var ConfigTemplate string
