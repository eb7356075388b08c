package pipeline

import (
	"strings"

	"utiles/internal/util"
)

type DetectResult struct {
	IsSupplyList bool
	Score        float64
	Reason       string
}

var detectKeywords = []string{"lista", "utiles", "materiales", "curso", "basico", "medio", "escolar", "apoderado"}

// DetectSupplyList scores an inbound message by keywords, grade labels and
// attachments. Texts are compared after accent stripping.
func DetectSupplyList(subject, text string, attachmentNames []string) DetectResult {
	subject = util.Normalize(subject)
	text = util.Normalize(text)

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(text, kw) {
			score += 0.05
		}
	}

	for _, name := range attachmentNames {
		if strings.HasSuffix(strings.ToLower(name), ".pdf") {
			score += 0.3
			break
		}
	}
	if score > 1 {
		score = 1
	}

	isList := score >= 0.45
	reason := "rules_negative"
	if isList {
		reason = "rules_positive"
	}
	return DetectResult{IsSupplyList: isList, Score: score, Reason: reason}
}
