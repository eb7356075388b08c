package locate

import (
	"math"
	"sort"
	"strings"

	"utiles/internal"
	"utiles/internal/util"
)

const (
	minKeywordFraction = 0.5
	prefixProbeLen     = 10
)

type line struct {
	y    float64
	runs []internal.TextRun
}

// Locate finds the first line of text, scanning pages in order and lines top
// to bottom, that mentions itemName, and returns its position as page
// percentages with the origin at the top-left corner. It returns nil when the
// name has no usable keywords or no line is similar enough.
func Locate(pages []internal.PageText, itemName string) *internal.Coordinates {
	keywords := util.Keywords(itemName)
	if len(keywords) == 0 {
		return nil
	}
	probe := util.Prefix(util.Normalize(itemName), prefixProbeLen)

	for i, page := range pages {
		if page.PageWidth <= 0 || page.PageHeight <= 0 {
			continue
		}
		for _, ln := range groupLines(page.TextRuns) {
			text := util.Normalize(joinRuns(ln.runs))
			if text == "" {
				continue
			}
			if keywordFraction(text, keywords) >= minKeywordFraction || (len([]rune(probe)) >= 2 && strings.Contains(text, probe)) {
				pageNo := page.PageNumber
				if pageNo < 1 {
					pageNo = i + 1
				}
				return toCoordinates(pageNo, page, ln)
			}
		}
	}
	return nil
}

// groupLines buckets runs sharing a baseline (y rounded to one decimal) and
// returns the lines top to bottom, runs left to right.
func groupLines(runs []internal.TextRun) []line {
	buckets := map[float64]*line{}
	order := make([]float64, 0)
	for _, r := range runs {
		if strings.TrimSpace(r.Text) == "" || math.IsNaN(r.X) || math.IsNaN(r.Y) {
			continue
		}
		key := math.Round(r.Y*10) / 10
		b, ok := buckets[key]
		if !ok {
			b = &line{y: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.runs = append(b.runs, r)
	}

	// PDF space grows upwards, so the top line has the largest y.
	sort.Float64s(order)
	out := make([]line, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		ln := buckets[order[i]]
		sort.SliceStable(ln.runs, func(a, b int) bool { return ln.runs[a].X < ln.runs[b].X })
		out = append(out, *ln)
	}
	return out
}

func joinRuns(runs []internal.TextRun) string {
	parts := make([]string, 0, len(runs))
	for _, r := range runs {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func keywordFraction(text string, keywords []string) float64 {
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}

func toCoordinates(pageNo int, page internal.PageText, ln line) *internal.Coordinates {
	var sumX, sumWidth, sumHeight float64
	for _, r := range ln.runs {
		sumX += r.X
		sumWidth += r.Width
		sumHeight += r.Height
	}
	n := float64(len(ln.runs))

	x := clampPct(sumX / n / page.PageWidth * 100)
	y := clampPct((page.PageHeight - ln.y) / page.PageHeight * 100)
	width := clampPct(sumWidth / page.PageWidth * 100)
	height := clampPct(sumHeight / n / page.PageHeight * 100)

	return &internal.Coordinates{
		Page:   pageNo,
		X:      round2(x),
		Y:      round2(y),
		Width:  util.FloatPtr(round2(width)),
		Height: util.FloatPtr(round2(height)),
		Region: util.StringPtr(regionOf(y)),
	}
}

func regionOf(yPct float64) string {
	switch {
	case yPct < 100.0/3:
		return "superior"
	case yPct < 200.0/3:
		return "medio"
	default:
		return "inferior"
	}
}

func clampPct(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
