package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"utiles/internal"
	"utiles/internal/util"
)

// ItemExtractor turns a supply-list PDF into raw line items. The AI-backed
// extractor lives outside this module; RuleExtractor is the deterministic
// fallback.
type ItemExtractor interface {
	ExtractItems(ctx context.Context, content []byte) ([]internal.RawItem, error)
}

// aiProcessed is implemented by extractors whose output comes from a model.
type aiProcessed interface {
	AIProcessed() bool
}

type RuleExtractor struct{}

func (RuleExtractor) ExtractItems(_ context.Context, content []byte) ([]internal.RawItem, error) {
	return parsePDF(content)
}

var (
	ignorePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[-_=.]{2,}$`),
		regexp.MustCompile(`(?i)^lista\s+de\s+(?:[uú]tiles|materiales)`),
		regexp.MustCompile(`(?i)^(?:colegio|escuela|liceo|instituto)\b`),
		regexp.MustCompile(`(?i)^(?:a[nñ]o\s+(?:acad[eé]mico|escolar)|curso)\s*:?`),
		regexp.MustCompile(`(?i)^(?:nota|importante|observaci[oó]n(?:es)?)\s*:`),
		regexp.MustCompile(`(?i)^(?:p[aá]gina|page)\s*\d+`),
		regexp.MustCompile(`(?i)^(?:atentamente|saludos|tel[eé]fono|e-?mail|http)`),
	}
	reHasLetters  = regexp.MustCompile(`\p{L}{2,}`)
	reSubjectHead = regexp.MustCompile(`(?i)^(lenguaje|matem[aá]tica|ciencias(?: naturales)?|historia|ingl[eé]s|artes(?: visuales)?|m[uú]sica|tecnolog[ií]a|educaci[oó]n f[ií]sica|religi[oó]n|orientaci[oó]n|f[ií]sica|qu[ií]mica|biolog[ií]a|filosof[ií]a|estuche|materiales generales|[uú]tiles generales)\s*:?\s*$`)
	reBrand       = regexp.MustCompile(`(?i)\bmarca\s*:?\s*([\p{L}\d][\p{L}\d&.\- ]{1,30})`)
	reISBNTag     = regexp.MustCompile(`(?i)\bisbn[:\s-]*[\dxX\-\s]{10,17}`)
	rePriceTag    = regexp.MustCompile(`\$\s*[\d.,]+`)
	reOptional    = regexp.MustCompile(`(?i)\b(?:opcional|no comprar|se entrega en el colegio|lo entrega el colegio)\b`)
)

func parsePDF(content []byte) (items []internal.RawItem, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			items, err = nil, fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	lines := []string{}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		lines = append(lines, splitLines(text)...)
	}
	return parseTextLines(lines), nil
}

func parseEmailText(text string) []internal.RawItem {
	return parseTextLines(splitLines(text))
}

// parseTextLines reads one item per line, tracking the subject heading the
// items fall under.
func parseTextLines(lines []string) []internal.RawItem {
	out := make([]internal.RawItem, 0, len(lines))
	subject := ""
	for _, line := range lines {
		compact := util.NormalizeSpaces(line)
		if compact == "" || isLikelyNoise(compact) {
			continue
		}
		if m := reSubjectHead.FindStringSubmatch(compact); m != nil {
			subject = strings.TrimSuffix(strings.TrimSpace(m[1]), ":")
			continue
		}
		item := lineToRawItem(compact)
		if item == nil {
			continue
		}
		if subject != "" {
			item.Subject = util.StringPtr(subject)
		}
		out = append(out, *item)
	}
	return dedupeItems(out)
}

func lineToRawItem(line string) *internal.RawItem {
	parsed := util.ParseQty(line)
	name := reISBNTag.ReplaceAllString(parsed.Rest, " ")
	if !reHasLetters.MatchString(name) {
		return nil
	}
	if parsed.Qty == nil && len([]rune(name)) < 4 {
		return nil
	}

	item := &internal.RawItem{
		Quantity: parsed.Qty,
		Name:     strings.Trim(util.NormalizeSpaces(name), " -:;,."),
		ISBN:     util.ParseISBN(line),
		Price:    util.ParsePrice(line),
		RawLine:  line,
	}
	if item.Price != nil {
		item.Name = util.NormalizeSpaces(rePriceTag.ReplaceAllString(item.Name, " "))
	}
	if m := reBrand.FindStringSubmatch(line); m != nil {
		item.Brand = util.StringPtr(strings.TrimSpace(m[1]))
	}
	if reOptional.MatchString(line) {
		item.ToPurchase = util.BoolPtr(false)
	}
	if item.Name == "" {
		return nil
	}
	return item
}

func parseEmailHTMLTable(html string) []internal.RawItem {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	out := []internal.RawItem{}
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() < 2 {
			return
		}

		headers := []string{}
		rows.First().Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			headers = append(headers, util.Normalize(cell.Text()))
		})
		cols := inferColumns(headers)

		rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, util.NormalizeSpaces(cell.Text()))
			})
			if item := cellsToRawItem(cells, cols); item != nil {
				out = append(out, *item)
			}
		})
	})
	return dedupeItems(out)
}

func parseXLSX(content []byte) ([]internal.RawItem, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []internal.RawItem{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		cols := columns{name: -1, qty: -1, subject: -1, brand: -1, isbn: -1, price: -1}
		for i, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				cells = append(cells, util.NormalizeSpaces(c))
			}
			if len(cells) == 0 {
				continue
			}
			if i < 3 && cols.name < 0 {
				normalized := make([]string, 0, len(cells))
				for _, c := range cells {
					normalized = append(normalized, util.Normalize(c))
				}
				if probe := inferColumns(normalized); probe.name >= 0 || probe.qty >= 0 {
					cols = probe
					continue
				}
			}
			if cols.name < 0 {
				cols = columns{name: 1, qty: 0, subject: -1, brand: -1, isbn: -1, price: -1}
			}
			if item := cellsToRawItem(cells, cols); item != nil {
				out = append(out, *item)
			}
		}
	}
	return dedupeItems(out), nil
}

type columns struct {
	name, qty, subject, brand, isbn, price int
}

func inferColumns(headers []string) columns {
	return columns{
		name:    findHeaderIndex(headers, []string{"material", "articulo", "producto", "nombre", "descripcion", "detalle", "utiles"}),
		qty:     findHeaderIndex(headers, []string{"cant", "qty", "unidades"}),
		subject: findHeaderIndex(headers, []string{"asignatura", "ramo", "subsector"}),
		brand:   findHeaderIndex(headers, []string{"marca"}),
		isbn:    findHeaderIndex(headers, []string{"isbn"}),
		price:   findHeaderIndex(headers, []string{"precio", "valor"}),
	}
}

func cellsToRawItem(cells []string, cols columns) *internal.RawItem {
	name := pickCell(cells, cols.name, 0)
	if !reHasLetters.MatchString(name) {
		return nil
	}
	item := &internal.RawItem{Name: name, RawLine: strings.Join(cells, " | ")}
	if qtyCell := pickCell(cells, cols.qty, -1); qtyCell != "" {
		item.Quantity = util.ParseCount(qtyCell)
	}
	if item.Quantity == nil && cols.qty < 0 {
		parsed := util.ParseQty(name)
		item.Quantity, item.Name = parsed.Qty, parsed.Rest
	}
	if s := pickCell(cells, cols.subject, -1); s != "" {
		item.Subject = util.StringPtr(s)
	}
	if s := pickCell(cells, cols.brand, -1); s != "" {
		item.Brand = util.StringPtr(s)
	}
	if s := pickCell(cells, cols.isbn, -1); s != "" {
		item.ISBN = util.ParseISBN("isbn " + s)
	}
	if s := pickCell(cells, cols.price, -1); s != "" {
		item.Price = util.ParsePrice("$" + strings.TrimPrefix(s, "$"))
	}
	return item
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLikelyNoise(line string) bool {
	for _, re := range ignorePatterns {
		if re.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// dedupeItems drops exact repeats of a line; distinct lines sharing a name are kept.
func dedupeItems(items []internal.RawItem) []internal.RawItem {
	seen := map[string]struct{}{}
	out := make([]internal.RawItem, 0, len(items))
	for _, item := range items {
		qtyKey := "null"
		if item.Quantity != nil {
			qtyKey = fmt.Sprintf("%g", *item.Quantity)
		}
		key := util.Deref(item.Subject) + "|" + item.RawLine + "|" + qtyKey
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

func findHeaderIndex(headers []string, probes []string) int {
	for i, h := range headers {
		for _, probe := range probes {
			if strings.Contains(h, probe) {
				return i
			}
		}
	}
	return -1
}

func pickCell(cells []string, idx int, fallback int) string {
	if idx >= 0 && idx < len(cells) {
		return strings.TrimSpace(cells[idx])
	}
	if fallback >= 0 && fallback < len(cells) {
		return strings.TrimSpace(cells[fallback])
	}
	return ""
}
