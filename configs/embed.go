// Package configs provides the configuration templates written by 'reposync init'.
//
// Templates are embedded at build time so they ship with every binary.
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/reposync/config.yaml)
//  3. Project config (.reposync.yaml)
//  4. Environment variables (REPOSYNC_*)
package configs

import _ "embed"

// ProjectConfigTemplate is written to .reposync.yaml by `reposync init`.
// Every value in it equals the built-in default except the example repositories.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
