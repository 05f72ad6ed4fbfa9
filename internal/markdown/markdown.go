// Package markdown inspects and rewrites the markdown returned by OCR providers.
package markdown

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"ocrnote/internal/pathutil"
)

var parser = goldmark.New().Parser()

// SuggestTitle returns the text of the first level-1 heading, or of the first
// level-2 heading when there is none. ok is false if neither exists.
// Only top-level "#" headings count: setext underlines and headings nested
// in quotes or lists are ignored.
func SuggestTitle(md string) (title string, ok bool) {
	src := []byte(md)
	doc := parser.Parse(text.NewReader(src))

	var h1, h2 string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, isHeading := n.(*ast.Heading)
		if !isHeading || !isATX(h, src) {
			continue
		}

		t := headingText(h, src)
		if t == "" {
			continue
		}
		if h.Level == 1 {
			h1 = t
			break
		}
		if h.Level == 2 && h2 == "" {
			h2 = t
		}
	}

	if h1 != "" {
		return h1, true
	}
	if h2 != "" {
		return h2, true
	}
	return "", false
}

// isATX reports whether the heading line starts with "#".
func isATX(h *ast.Heading, src []byte) bool {
	if h.Lines().Len() == 0 {
		return false
	}
	start := h.Lines().At(0).Start
	lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
	return bytes.HasPrefix(bytes.TrimLeft(src[lineStart:start], " \t"), []byte("#"))
}

func headingText(h *ast.Heading, src []byte) string {
	var buf bytes.Buffer
	lines := h.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return strings.TrimSpace(buf.String())
}

// ReplaceImagePath rewrites every image reference ![alt](oldRef) to
// ![oldRef](newPath). Plain links and parenthesised text are left alone.
// A newPath that is not a valid bare link destination is written in <...> form.
func ReplaceImagePath(md, oldRef, newPath string) string {
	re := regexp.MustCompile(`!\[([^\]\n]*)\]\(` + pathutil.EscapeRegExp(oldRef) + `\)`)
	repl := fmt.Sprintf("![%s](%s)", oldRef, linkDestination(newPath))
	return re.ReplaceAllLiteralString(md, repl)
}

// linkDestination wraps dest in angle brackets when it holds whitespace or
// unbalanced parentheses, which end a bare destination early.
func linkDestination(dest string) string {
	if strings.ContainsAny(dest, " \t") || !balancedParens(dest) {
		return "<" + dest + ">"
	}
	return dest
}

func balancedParens(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// InlineImage rewrites references to ref so the image data is embedded as a
// data URL. A payload that already carries a data URL prefix is used as is.
func InlineImage(md, ref, base64Data string) string {
	url := base64Data
	if !strings.HasPrefix(url, "data:") {
		url = "data:" + pathutil.MimeTypeForName(ref) + ";base64," + base64Data
	}
	return ReplaceImagePath(md, ref, url)
}

// ImageRefs lists the destinations of all image references in order of appearance.
func ImageRefs(md string) []string {
	src := []byte(md)
	doc := parser.Parse(text.NewReader(src))

	var refs []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if img, isImage := n.(*ast.Image); entering && isImage {
			refs = append(refs, string(img.Destination))
		}
		return ast.WalkContinue, nil
	})
	return refs
}
