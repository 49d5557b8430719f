// Package appfs embeds static app assets; goose reads migrations from here
// so the binaries stay self-contained.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
