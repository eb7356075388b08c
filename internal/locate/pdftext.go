package locate

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"utiles/internal"
)

const (
	// US Letter, used when a page carries no readable MediaBox.
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0

	baselineTolerance = 0.5
)

// ReadTextLayer reads the positioned text of every page. Glyph-level text
// emitted by the PDF content stream is merged into word runs. Pages whose
// content cannot be decoded are returned without runs.
func ReadTextLayer(content []byte) (pages []internal.PageText, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = nil, fmt.Errorf("read pdf text layer: %v", rec)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	out := make([]internal.PageText, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		width, height := mediaBox(p)
		out = append(out, internal.PageText{
			PageNumber: i,
			PageWidth:  width,
			PageHeight: height,
			TextRuns:   pageRuns(p),
		})
	}
	return out, nil
}

func pageRuns(p pdf.Page) (runs []internal.TextRun) {
	defer func() {
		// The content stream interpreter panics on malformed operators.
		if recover() != nil {
			runs = nil
		}
	}()
	return mergeGlyphs(p.Content().Text)
}

// mergeGlyphs joins consecutive glyphs on the same baseline whose gap is
// smaller than a fraction of the font size. A wider gap or a space glyph
// starts a new run.
func mergeGlyphs(glyphs []pdf.Text) []internal.TextRun {
	out := make([]internal.TextRun, 0)
	var cur *internal.TextRun
	var curEnd float64

	flush := func() {
		if cur != nil && strings.TrimSpace(cur.Text) != "" {
			cur.Text = strings.TrimSpace(cur.Text)
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" {
			flush()
			continue
		}
		gap := g.FontSize * 0.25
		if gap <= 0 {
			gap = 1
		}
		if cur != nil && math.Abs(g.Y-cur.Y) <= baselineTolerance && g.X >= curEnd-gap && g.X-curEnd <= gap {
			cur.Text += g.S
			curEnd = g.X + g.W
			cur.Width = curEnd - cur.X
			if g.FontSize > cur.Height {
				cur.Height = g.FontSize
			}
			continue
		}
		flush()
		cur = &internal.TextRun{Text: g.S, X: g.X, Y: g.Y, Width: g.W, Height: g.FontSize}
		curEnd = g.X + g.W
	}
	flush()
	return out
}

func mediaBox(p pdf.Page) (float64, float64) {
	box := p.V.Key("MediaBox")
	if box.IsNull() {
		box = p.V.Key("Parent").Key("MediaBox")
	}
	if box.Len() != 4 {
		return defaultPageWidth, defaultPageHeight
	}
	width := box.Index(2).Float64() - box.Index(0).Float64()
	height := box.Index(3).Float64() - box.Index(1).Float64()
	if width <= 0 || height <= 0 {
		return defaultPageWidth, defaultPageHeight
	}
	return width, height
}
