package markdown

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestTitle(t *testing.T) {
	tests := []struct {
		name   string
		md     string
		want   string
		wantOK bool
	}{
		{"level one heading", "# Hello\nbody", "Hello", true},
		{"level two when no level one", "## Sub\nbody", "Sub", true},
		{"level one wins over earlier level two", "## Sub\ntext\n\n# Main\n", "Main", true},
		{"first level one only", "# First\n\n# Second\n", "First", true},
		{"trims whitespace", "#    Padded title   \n", "Padded title", true},
		{"closing hashes", "# Closed #\n", "Closed", true},
		{"no headings", "no headings", "", false},
		{"heading inside code block", "```\n# not a title\n```\nplain", "", false},
		{"deeper headings ignored", "### Three\n#### Four", "", false},
		{"setext heading ignored", "Not a heading\n===\n\n## Real\n", "Real", true},
		{"quoted heading ignored", "> # Quoted\n\n## Sub", "Sub", true},
		{"indented hash heading", "  # Indented\n", "Indented", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SuggestTitle(tt.md)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplaceImagePath(t *testing.T) {
	tests := []struct {
		name string
		md   string
		old  string
		new  string
		want string
	}{
		{
			name: "single reference",
			md:   "This is a test ![image](old_path.png) with an image",
			old:  "old_path.png",
			new:  "foo/bar/new_path.png",
			want: "This is a test ![old_path.png](foo/bar/new_path.png) with an image",
		},
		{
			name: "all occurrences",
			md:   "Image 1: ![alt](image.png) and Image 2: ![other](image.png)",
			old:  "image.png",
			new:  "new/image.png",
			want: "Image 1: ![image.png](new/image.png) and Image 2: ![image.png](new/image.png)",
		},
		{
			name: "not an image reference",
			md:   "text with (path.png) but not an image",
			old:  "path.png",
			new:  "new.png",
			want: "text with (path.png) but not an image",
		},
		{
			name: "empty alt text",
			md:   "Empty alt: ![](image.png)",
			old:  "image.png",
			new:  "new/image.png",
			want: "Empty alt: ![image.png](new/image.png)",
		},
		{
			name: "metacharacters in reference",
			md:   "![a](img(1).png) ![b](imgX1Y.png)",
			old:  "img(1).png",
			new:  "attachments/img(1).png",
			want: "![img(1).png](attachments/img(1).png) ![b](imgX1Y.png)",
		},
		{
			name: "other references untouched",
			md:   "![x](img-0.jpeg)\n![y](img-1.jpeg)",
			old:  "img-0.jpeg",
			new:  "attachments/img-0.jpeg",
			want: "![img-0.jpeg](attachments/img-0.jpeg)\n![y](img-1.jpeg)",
		},
		{
			name: "does not span earlier references",
			md:   "![x](img-1.jpeg) ![y](img-0.jpeg)",
			old:  "img-0.jpeg",
			new:  "attachments/img-0.jpeg",
			want: "![x](img-1.jpeg) ![img-0.jpeg](attachments/img-0.jpeg)",
		},
		{
			name: "space in new path",
			md:   "![x](img-0.png)",
			old:  "img-0.png",
			new:  "attachments/img-0 1.png",
			want: "![img-0.png](<attachments/img-0 1.png>)",
		},
		{
			name: "unbalanced parenthesis in new path",
			md:   "![x](a.png)",
			old:  "a.png",
			new:  "attachments/a).png",
			want: "![a.png](<attachments/a).png>)",
		},
		{
			name: "dollar signs are literal",
			md:   "![x](a.png)",
			old:  "a.png",
			new:  "$1/a.png",
			want: "![a.png]($1/a.png)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplaceImagePath(tt.md, tt.old, tt.new))
		})
	}
}

func TestInlineImage(t *testing.T) {
	md := "before ![img-0.jpeg](img-0.jpeg) after"

	got := InlineImage(md, "img-0.jpeg", "AAAA")
	assert.Equal(t, "before ![img-0.jpeg](data:image/jpeg;base64,AAAA) after", got)

	got = InlineImage(md, "img-0.jpeg", "data:image/png;base64,BBBB")
	assert.Equal(t, "before ![img-0.jpeg](data:image/png;base64,BBBB) after", got)
}

func TestImageRefs(t *testing.T) {
	md := "# Doc\n\n![a](img-0.jpeg)\n\ntext [link](other.md)\n\n![](img-1.png)\n"
	refs := ImageRefs(md)
	require.Len(t, refs, 2)
	assert.Equal(t, []string{"img-0.jpeg", "img-1.png"}, refs)
}

func TestReplaceImagePathKeepsImageParseable(t *testing.T) {
	md := ReplaceImagePath("# Doc\n\n![img-0.png](img-0.png)", "img-0.png", "attachments/img-0 1.png")
	assert.Equal(t, []string{"attachments/img-0 1.png"}, ImageRefs(md))
}

func ExampleReplaceImagePath() {
	md := "Figure: ![img-0.jpeg](img-0.jpeg)"
	fmt.Println(ReplaceImagePath(md, "img-0.jpeg", "attachments/img-0.jpeg"))
	// Output: Figure: ![img-0.jpeg](attachments/img-0.jpeg)
}
