// Package markdown reads agent files: it pulls metadata out of the text and
// renders a sanitized HTML preview.
package markdown

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/tags"
)

// newParser builds the goldmark instance shared by Generator and Renderer.
// GFM gives tables, strikethrough and task lists, which agent files use a
// lot.
func newParser() goldmark.Markdown {
	return goldmark.New(goldmark.WithExtensions(extension.GFM))
}

// Generator derives metadata from the Markdown structure of a file:
//
//   - the first heading becomes the title
//   - the first ordinary paragraph becomes the description
//   - a line of the form "tags: a, b, c" supplies the tags
type Generator struct {
	md goldmark.Markdown
}

// NewGenerator returns a ready Generator.
func NewGenerator() *Generator {
	return &Generator{md: newParser()}
}

// Generate returns the metadata of content, or nil when nothing useful was
// found. It only fails when ctx is already done.
func (g *Generator) Generate(ctx context.Context, content string) (*model.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("markdown: generating metadata: %w", err)
	}

	src := []byte(content)
	doc := g.md.Parser().Parse(text.NewReader(src))

	meta := &model.Metadata{Tags: tagsLine(content)}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			if meta.Title == "" {
				meta.Title = plainText(n, src)
			}
			return ast.WalkSkipChildren, nil
		case ast.KindParagraph:
			if meta.Description == "" {
				p := plainText(n, src)
				if !isTagsLine(p) {
					meta.Description = p
				}
			}
			return ast.WalkSkipChildren, nil
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("markdown: walking document: %w", err)
	}

	if meta.Title == "" && meta.Description == "" && len(meta.Tags) == 0 {
		return nil, nil
	}
	return meta, nil
}

// plainText concatenates the text leaves under n. Soft line breaks become
// spaces so a wrapped paragraph reads as one line.
func plainText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(buf.String()), " ")
}

func isTagsLine(line string) bool {
	return len(line) >= 5 && strings.EqualFold(line[:5], "tags:")
}

// tagsLine finds the first "tags:" line outside fenced code and returns
// its normalized values.
func tagsLine(content string) []string {
	inFence := false
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			inFence = !inFence
			continue
		}
		if !inFence && isTagsLine(line) {
			return tags.Parse(line[5:])
		}
	}
	return nil
}

// Renderer turns Markdown into HTML that is safe to embed in a page.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewRenderer returns a Renderer using bluemonday's user-generated-content
// policy. Raw HTML in the source is dropped by goldmark (it is not built
// WithUnsafe) and anything that slips through is stripped by the policy.
func NewRenderer() *Renderer {
	return &Renderer{md: newParser(), policy: bluemonday.UGCPolicy()}
}

// Render converts src to sanitized HTML.
func (r *Renderer) Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("markdown: rendering: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}
