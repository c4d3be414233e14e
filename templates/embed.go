// Package templates embeds the default workspace config and starter profiles.
package templates

import "embed"

//go:embed config.yaml profiles
var FS embed.FS
