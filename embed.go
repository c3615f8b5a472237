package hearth

import "embed"

// TemplateFS contains the embedded HTML templates for the web interface, split into
// layout, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets, the stylesheet and the browser-side
// streaming client.
//
//go:embed static/*
var StaticFS embed.FS
