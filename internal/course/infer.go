package course

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"utiles/internal"
	"utiles/internal/util"
)

const (
	levelWords  = `(basico|basica|basic|medio|media|secundari[oa])`
	ordinalMark = `(?:°|º|ª|\.°|\.º|ro|do|er|to|mo|vo|no)`
	romanTokens = `(xii|xi|x|ix|viii|vii|vi|v|iv|iii|ii|i)`
)

var (
	reBasic     = regexp.MustCompile(`\b(basico|basica|basic)\b`)
	reSecondary = regexp.MustCompile(`\b(medio|media|secundari[oa])\b`)
	reYear      = regexp.MustCompile(`(?:^|\D)(20\d{2})(?:\D|$)`)
	reCanonical = regexp.MustCompile(`^\d{1,2}\s*` + ordinalMark + `?\s*` + levelWords + `(?:\s*[a-z])?$`)
	reLevelHead = regexp.MustCompile(`^\s*` + ordinalMark + `?\s*` + levelWords + `\b`)
	reLevelWord = regexp.MustCompile(`^` + levelWords + `$`)
	rePDFSuffix = regexp.MustCompile(`(?i)\.pdf\s*$`)

	romanValues = map[string]int{
		"i": 1, "ii": 2, "iii": 3, "iv": 4, "v": 5, "vi": 6,
		"vii": 7, "viii": 8, "ix": 9, "x": 10, "xi": 11, "xii": 12,
	}

	spelledOrdinals = []struct {
		re    *regexp.Regexp
		grade int
	}{
		{regexp.MustCompile(`\b(primero|primer|primera)\b`), 1},
		{regexp.MustCompile(`\b(segundo|segunda)\b`), 2},
		{regexp.MustCompile(`\b(tercero|tercer|tercera)\b`), 3},
		{regexp.MustCompile(`\b(cuarto|cuarta)\b`), 4},
		{regexp.MustCompile(`\b(quinto|quinta)\b`), 5},
		{regexp.MustCompile(`\b(sexto|sexta)\b`), 6},
		{regexp.MustCompile(`\b(septimo|septima|setimo)\b`), 7},
		{regexp.MustCompile(`\b(octavo|octava)\b`), 8},
		{regexp.MustCompile(`\b(noveno|novena)\b`), 9},
		{regexp.MustCompile(`\b(decimo|decima)\b`), 10},
	}
)

// gradeRule is one step of the grade cascade. Rules run in table order and the
// first one that yields a grade decides both the grade and the confidence bonus.
type gradeRule struct {
	method  internal.GradeMethod
	bonus   int
	extract func(normalized string) (int, bool)
}

var gradeRules = []gradeRule{
	{method: internal.MethodRoman, bonus: 15, extract: romanGrade},
	{method: internal.MethodSpelled, bonus: 10, extract: spelledGrade},
	{method: internal.MethodArabicOrdinal, bonus: 20, extract: numberBeforeLevel(regexp.MustCompile(`\b(\d{1,2})\s*` + ordinalMark + `\s*` + levelWords + `\b`))},
	{method: internal.MethodArabic, bonus: 0, extract: numberBeforeLevel(regexp.MustCompile(`\b(\d{1,2})\s*` + levelWords + `\b`))},
}

var reRoman = regexp.MustCompile(`\b` + romanTokens + `\s*(?:°|º|ª)?\s*` + levelWords + `\b`)

func romanGrade(normalized string) (int, bool) {
	m := reRoman.FindStringSubmatch(normalized)
	if m == nil {
		return 0, false
	}
	grade, ok := romanValues[m[1]]
	return grade, ok
}

func spelledGrade(normalized string) (int, bool) {
	for _, o := range spelledOrdinals {
		if o.re.MatchString(normalized) {
			return o.grade, true
		}
	}
	return 0, false
}

func numberBeforeLevel(re *regexp.Regexp) func(string) (int, bool) {
	return func(normalized string) (int, bool) {
		m := re.FindStringSubmatch(normalized)
		if m == nil {
			return 0, false
		}
		grade, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return grade, true
	}
}

// Infer reads level, grade, section and year out of a label, usually a PDF
// file name. It returns nil when level or grade cannot be determined or the
// grade is out of range for the level.
func Infer(label string) *internal.CourseDescriptor {
	original := strings.TrimSpace(rePDFSuffix.ReplaceAllString(label, ""))
	normalized := util.Normalize(original)
	if normalized == "" {
		return nil
	}

	var level internal.Level
	switch {
	case reBasic.MatchString(normalized):
		level = internal.LevelBasic
	case reSecondary.MatchString(normalized):
		level = internal.LevelSecondary
	default:
		return nil
	}

	var (
		grade int
		rule  *gradeRule
	)
	for i := range gradeRules {
		if g, ok := gradeRules[i].extract(normalized); ok {
			grade = g
			rule = &gradeRules[i]
			break
		}
	}
	if rule == nil {
		return nil
	}
	if grade < 1 || grade > level.MaxGrade() {
		return nil
	}

	desc := &internal.CourseDescriptor{
		Level:  level,
		Grade:  grade,
		Method: rule.method,
	}

	confidence := 50 + rule.bonus
	if section := detectSection(original); section != "" {
		desc.Section = util.StringPtr(section)
		confidence += 10
	}
	if m := reYear.FindStringSubmatch(original); m != nil {
		year, _ := strconv.Atoi(m[1])
		desc.Year = util.IntPtr(year)
		confidence += 10
	}
	if reCanonical.MatchString(normalized) {
		confidence += 10
	}
	if confidence > 100 {
		confidence = 100
	}
	desc.Confidence = confidence

	return desc
}

// detectSection finds a standalone uppercase letter that is not glued to a
// digit, preferring one after the level word ("LISTA Y UTILES 3° BASICO A").
// A letter directly followed by a level word is a roman grade ("I Medio"),
// not a section.
func detectSection(original string) string {
	r := []rune(original)
	first, afterLevel := "", false
	for i := 0; i < len(r); i++ {
		if !unicode.IsLetter(r[i]) {
			continue
		}
		j := i
		for j < len(r) && unicode.IsLetter(r[j]) {
			j++
		}
		word := string(r[i:j])
		switch {
		case reLevelWord.MatchString(util.Normalize(word)):
			afterLevel = true
		case j-i == 1 && unicode.IsUpper(r[i]):
			prevDigit := i > 0 && unicode.IsDigit(r[i-1])
			nextDigit := j < len(r) && unicode.IsDigit(r[j])
			if !prevDigit && !nextDigit && !reLevelHead.MatchString(util.Normalize(string(r[j:]))) {
				if afterLevel {
					return word
				}
				if first == "" {
					first = word
				}
			}
		}
		i = j - 1
	}
	return first
}
