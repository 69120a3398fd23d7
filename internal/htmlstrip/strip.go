// Package htmlstrip derives a plain-text body from an HTML mail body.
package htmlstrip

import (
	"strings"

	"golang.org/x/net/html"
)

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"title":    true,
}

// lineElements end the current line when they open or close.
var lineElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "hr": true,
	"section": true, "article": true, "header": true, "footer": true,
}

type writer struct {
	sb        strings.Builder
	pendingNL bool
	lastSpace bool
}

func (w *writer) newline() {
	if w.sb.Len() > 0 {
		w.pendingNL = true
	}
}

func (w *writer) text(s string) {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\u00a0' {
			if w.sb.Len() > 0 && !w.pendingNL {
				w.lastSpace = true
			}
			continue
		}
		switch {
		case w.pendingNL:
			w.sb.WriteByte('\n')
			w.pendingNL = false
			w.lastSpace = false
		case w.lastSpace:
			w.sb.WriteByte(' ')
			w.lastSpace = false
		}
		w.sb.WriteRune(r)
	}
}

// Text converts an HTML document or fragment to plain text.
// Script and style content is dropped, block elements become line breaks,
// links keep their target in angle brackets when it differs from the label.
func Text(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	w := &writer{}
	skipDepth := 0
	var href string
	var linkText strings.Builder

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(w.sb.String())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if skipElements[tag] {
				skipDepth++
				continue
			}
			if lineElements[tag] {
				w.newline()
			}
			if !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				switch {
				case tag == "a" && string(key) == "href":
					href = string(val)
					linkText.Reset()
				case tag == "img" && string(key) == "alt" && len(val) > 0:
					w.text(" " + string(val) + " ")
				}
				if !more {
					break
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipElements[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if tag == "a" && href != "" {
				if strings.HasPrefix(href, "http") && strings.TrimSpace(linkText.String()) != href {
					w.text(" <" + href + ">")
				}
				href = ""
			}
			if lineElements[tag] {
				w.newline()
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			t := string(z.Text())
			if href != "" {
				linkText.WriteString(t)
			}
			w.text(t)
		}
	}
}
