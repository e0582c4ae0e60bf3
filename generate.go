// Package blogmd serves and exports a blog from a directory of markdown files.
//
// Regenerate the syntax highlighting stylesheet using:
//
//	go generate
package blogmd

//go:generate go run ./tools/generate-chroma-css --style github-dark --out static/css/chroma.css
