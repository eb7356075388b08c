package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	unitWords     = `(?:unidades|unidad|unid\.?|un\.?|u\.?|cajas?|paquetes?|pqte\.?|sobres?|frascos?|tubos?|pliegos?|resmas?|pares?|set|sets)`
	leadingQty    = regexp.MustCompile(`(?i)^\s*(?:[-*•·]\s*)?(\d{1,3})\s*(?:x\s+|` + unitWords + `\s+|[-.)]\s*|\s+)`)
	parenQty      = regexp.MustCompile(`(?i)\((\d{1,3})\)`)
	trailingQty   = regexp.MustCompile(`(?i)(?:\bx\s*(\d{1,3})|(\d{1,3})\s*` + unitWords + `)\s*\.?\s*$`)
	pricePattern  = regexp.MustCompile(`\$\s*(\d{1,3}(?:[.,]\d{3})+|\d+)`)
	isbnPattern   = regexp.MustCompile(`(?i)\bisbn[:\s-]*((?:97[89][-\s]?)?\d{1,5}[-\s]?\d{1,7}[-\s]?\d{1,7}[-\s]?[\dx])\b`)
	thousandsOnly = regexp.MustCompile(`^\d{1,3}(?:[.,]\d{3})+$`)
)

type ParsedQty struct {
	Qty    *float64
	QtyRaw *string
	Rest   string
}

// ParseQty reads the item quantity of a supply-list line. Lists usually lead
// with the count ("2 cuadernos 100 hojas"), so a leading number wins over a
// trailing one.
func ParseQty(input string) ParsedQty {
	line := strings.ReplaceAll(input, " ", " ")

	if m := leadingQty.FindStringSubmatchIndex(line); m != nil {
		raw := line[m[2]:m[3]]
		rest := NormalizeSpaces(line[m[1]:])
		if rest != "" {
			return ParsedQty{Qty: parseCount(raw), QtyRaw: StringPtr(strings.TrimSpace(line[m[0]:m[1]])), Rest: rest}
		}
	}
	if m := parenQty.FindStringSubmatchIndex(line); m != nil {
		raw := line[m[2]:m[3]]
		rest := NormalizeSpaces(line[:m[0]] + " " + line[m[1]:])
		return ParsedQty{Qty: parseCount(raw), QtyRaw: StringPtr(line[m[0]:m[1]]), Rest: rest}
	}
	if m := trailingQty.FindStringSubmatchIndex(line); m != nil {
		raw := ""
		if m[2] >= 0 {
			raw = line[m[2]:m[3]]
		} else {
			raw = line[m[4]:m[5]]
		}
		rest := NormalizeSpaces(line[:m[0]])
		return ParsedQty{Qty: parseCount(raw), QtyRaw: StringPtr(strings.TrimSpace(line[m[0]:m[1]])), Rest: rest}
	}
	return ParsedQty{Rest: NormalizeSpaces(line)}
}

// ParsePrice extracts a peso amount such as "$1.990" or "$ 2,500".
func ParsePrice(input string) *float64 {
	m := pricePattern.FindStringSubmatch(input)
	if len(m) < 2 {
		return nil
	}
	token := m[1]
	if thousandsOnly.MatchString(token) {
		token = strings.NewReplacer(".", "", ",", "").Replace(token)
	}
	parsed, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil
	}
	return FloatPtr(parsed)
}

// ParseISBN returns the ISBN digits (with a trailing X when present) following an "ISBN" tag.
func ParseISBN(input string) *string {
	m := isbnPattern.FindStringSubmatch(input)
	if len(m) < 2 {
		return nil
	}
	digits := strings.NewReplacer("-", "", " ", "").Replace(strings.ToUpper(m[1]))
	if len(digits) != 10 && len(digits) != 13 {
		return nil
	}
	return StringPtr(digits)
}

// ParseCount reads a bare positive count such as a spreadsheet cell ("3", "3 un.").
func ParseCount(cell string) *float64 {
	if q := parseCount(cell); q != nil {
		return q
	}
	return ParseQty(cell).Qty
}

func parseCount(raw string) *float64 {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || parsed <= 0 {
		return nil
	}
	return FloatPtr(float64(parsed))
}
