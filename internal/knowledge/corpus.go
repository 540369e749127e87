// Package knowledge provides the knowledge corpus used to build the
// configuration catalog and to give tier-2 agents context.
package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/spec-kit/support-dispatch/internal/textscore"
)

// Document is one section of the corpus.
type Document struct {
	ID      string
	Source  string
	Title   string
	Content string
}

// Text returns title and content joined for scoring.
func (d Document) Text() string {
	return d.Title + "\n" + d.Content
}

// Corpus answers full-text lookups.
type Corpus interface {
	Query(ctx context.Context, text string, limit int) ([]Document, error)
}

// Index is an in-memory corpus. Immutable after construction and safe
// for concurrent reads.
type Index struct {
	docs []Document
}

// New builds an index over the given documents.
func New(docs []Document) *Index {
	return &Index{docs: append([]Document(nil), docs...)}
}

// LoadDir parses every markdown file under dir into heading sections.
func LoadDir(dir string) (*Index, error) {
	var docs []Document
	md := goldmark.New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		docs = append(docs, ParseMarkdown(md, filepath.ToSlash(rel), src)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return New(docs), nil
}

// ParseMarkdown splits a markdown file into one Document per heading.
// Text before the first heading becomes a document titled after the file.
func ParseMarkdown(md goldmark.Markdown, source string, src []byte) []Document {
	root := md.Parser().Parse(text.NewReader(src))

	var (
		docs    []Document
		title   = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		content strings.Builder
	)
	flush := func() {
		if body := strings.TrimSpace(content.String()); body != "" {
			docs = append(docs, Document{
				ID:      fmt.Sprintf("%s#%d", source, len(docs)),
				Source:  source,
				Title:   title,
				Content: body,
			})
		}
		content.Reset()
	}

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		if heading, ok := node.(*ast.Heading); ok {
			flush()
			title = strings.TrimSpace(nodeText(heading, src))
			continue
		}
		content.WriteString(nodeText(node, src))
		content.WriteByte('\n')
	}
	flush()
	return docs
}

// nodeText collects the raw text of a node, keeping code spans and code
// blocks verbatim since they carry file paths and variable names.
func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Type() == ast.TypeBlock && node != n {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := v.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// All returns every document in corpus order.
func (i *Index) All() []Document {
	return append([]Document(nil), i.docs...)
}

// Query ranks documents by keyword overlap plus cosine similarity with
// the query text and returns at most limit hits with a positive score.
func (i *Index) Query(ctx context.Context, query string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := textscore.Set(query)
	if len(terms) == 0 {
		return nil, nil
	}

	type hit struct {
		doc   Document
		score float64
	}
	var hits []hit
	for _, doc := range i.docs {
		score := textscore.KeywordOverlap(terms, textscore.Set(doc.Text())) + textscore.Cosine(query, doc.Text())
		if score > 0 {
			hits = append(hits, hit{doc: doc, score: score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Document, len(hits))
	for n, h := range hits {
		out[n] = h.doc
	}
	return out, nil
}
