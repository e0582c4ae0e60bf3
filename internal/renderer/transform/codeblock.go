// Package transform provides custom rendering transformations for markdown elements.
package transform

import (
	"bytes"
	"strings"

	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/util"
)

// CodeBlockWrapper returns a wrapper renderer that places every fenced block
// with a language inside a code-block-wrapper div carrying a language badge.
// Blocks chroma could not highlight fall back to a plain pre/code pair.
func CodeBlockWrapper() highlighting.WrapperRenderer {
	return func(w util.BufWriter, ctx highlighting.CodeBlockContext, entering bool) {
		lang, _ := ctx.Language()
		lang = bytes.TrimSpace(lang)
		badge := len(lang) > 0

		if entering {
			if badge {
				escaped := util.EscapeHTML([]byte(strings.ToLower(string(lang))))
				_, _ = w.WriteString(`<div class="code-block-wrapper"><span class="code-lang code-lang-`)
				_, _ = w.Write(escaped)
				_, _ = w.WriteString(`">`)
				_, _ = w.Write(escaped)
				_, _ = w.WriteString(`</span>`)
			}
			if !ctx.Highlighted() {
				_, _ = w.WriteString("<pre><code")
				if badge {
					_, _ = w.WriteString(` class="language-`)
					_, _ = w.Write(util.EscapeHTML(lang))
					_, _ = w.WriteString(`"`)
				}
				_, _ = w.WriteString(">")
			}
			return
		}

		if !ctx.Highlighted() {
			_, _ = w.WriteString("</code></pre>\n")
		}
		if badge {
			_, _ = w.WriteString("</div>\n")
		}
	}
}
