// Package main generates the chroma stylesheet used by highlighted code blocks.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/spf13/pflag"
)

func main() {
	styleName := pflag.String("style", "github-dark", "chroma style name")
	out := pflag.StringP("out", "o", "", "write CSS to this file instead of stdout")
	pflag.Parse()

	if err := run(*styleName, *out); err != nil {
		fmt.Fprintf(os.Stderr, "generate-chroma-css: %v\n", err)
		os.Exit(1)
	}
}

func run(styleName, out string) error {
	style := styles.Get(styleName)
	if style == nil || (style == styles.Fallback && styleName != styles.Fallback.Name) {
		return fmt.Errorf("style %q not found", styleName)
	}

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out) //nolint:gosec // output path comes from go:generate
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
		if _, err := fmt.Fprintf(f, "/* Generated by tools/generate-chroma-css (style: %s). */\n", styleName); err != nil {
			return err
		}
	}

	formatter := html.New(
		html.WithClasses(true),
		html.ClassPrefix(""),
	)
	return formatter.WriteCSS(w, style)
}
