// Package templates embeds the HTML served by the dashboard, ops and status pages.
package templates

import (
	"embed"
)

//go:embed base.html status.html dashboard.html ops.html
var FS embed.FS
