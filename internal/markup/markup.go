// Package markup renders user-submitted message text to safe HTML.
// Raw HTML is escaped first, then a restricted markdown dialect is
// rendered: lists, explicit [text](url) links and automatic line
// breaks. Headings, emphasis, code blocks and raw HTML passthrough are
// deliberately not part of the dialect.
package markup

import (
	"bytes"
	"html"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	ghtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// The parser configuration never changes and a goldmark.Markdown is
// safe for concurrent use, so a single instance is shared.
var (
	mdInstance goldmark.Markdown
	mdOnce     sync.Once
)

func md() goldmark.Markdown {
	mdOnce.Do(func() {
		mdInstance = goldmark.New(
			goldmark.WithParser(parser.NewParser(
				parser.WithBlockParsers(
					util.Prioritized(parser.NewListParser(), 300),
					util.Prioritized(parser.NewListItemParser(), 400),
					util.Prioritized(parser.NewParagraphParser(), 1000),
				),
				parser.WithInlineParsers(
					util.Prioritized(parser.NewLinkParser(), 200),
				),
			)),
			goldmark.WithRendererOptions(ghtml.WithHardWraps()),
		)
	})
	return mdInstance
}

// Render escapes raw HTML in text, renders the restricted markdown
// dialect and forces every generated hyperlink to carry
// rel="noopener noreferrer nofollow", blocking reverse-tabnabbing and
// SEO abuse through user content.
func Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := md().Convert([]byte(html.EscapeString(text)), &buf); err != nil {
		return "", err
	}

	out := strings.ReplaceAll(buf.String(), "<a href=", `<a rel="noopener noreferrer nofollow" href=`)
	return out, nil
}
