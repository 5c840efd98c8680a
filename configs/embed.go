// Package configs provides embedded configuration templates for quarry.
//
// Templates are embedded at build time with go:embed so they ship in every
// distribution, whether installed from source or as a release binary.
//
// The templates are used by:
//   - cmd/quarry/cmd/init.go - creates .quarry.yaml in the workspace
//   - cmd/quarry/cmd/config.go - creates the user config under ~/.config/quarry/
//
// Configuration layering (see internal/config Load):
//  1. Hardcoded defaults (internal/config NewConfig)
//  2. User config (~/.config/quarry/config.yaml)
//  3. Project config (.quarry.yaml)
//  4. Environment variables (QUARRY_*)
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration:
// settings that apply to every workspace on this machine, like the Ollama
// host and the answer backend.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for workspace-level configuration,
// version-controlled with the corpus: the corpus path and format, retrieval
// tunables, and assembly policy.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
