// Package frontend embeds the browser client served at /.
package frontend

import "embed"

//go:embed index.html app.js style.css
var Assets embed.FS
