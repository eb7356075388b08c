package course

import (
	"strings"

	"utiles/internal"
)

const (
	// MatchThreshold is the minimum score Match accepts.
	MatchThreshold = 80
	// AutoApplyThreshold separates an automatic match from one that needs confirmation.
	AutoApplyThreshold = 95

	scoreLevel          = 40
	scoreGrade          = 40
	scoreSectionExact   = 15
	scoreSectionMissing = 5
	penaltySection      = 5
	scoreYear           = 5
)

type Band string

const (
	BandMatched   Band = "matched"
	BandAmbiguous Band = "ambiguous"
	BandNotFound  Band = "not_found"
)

type MatchResult struct {
	Record internal.CourseRecord
	Score  int
}

// Score rates a catalog record against a descriptor. ok is false when the
// record fails the level or grade gate and must not be considered at all.
func Score(desc internal.CourseDescriptor, rec internal.CourseRecord) (score int, ok bool) {
	if rec.Level != desc.Level {
		return 0, false
	}
	score += scoreLevel
	if rec.Grade != desc.Grade {
		return 0, false
	}
	score += scoreGrade

	descSection := sectionOf(desc.Section)
	recSection := sectionOf(rec.Section)
	switch {
	case descSection != "" && strings.EqualFold(descSection, recSection):
		score += scoreSectionExact
	case descSection != "" && recSection != "":
		score -= penaltySection
	case descSection == "" && recSection == "":
		score += scoreSectionMissing
	}

	if desc.Year != nil && rec.Year != nil && *desc.Year == *rec.Year {
		score += scoreYear
	}
	return score, true
}

// Match returns the best scoring catalog record, or nil when no record reaches
// MatchThreshold. Ties keep the record seen first.
func Match(desc internal.CourseDescriptor, catalog []internal.CourseRecord) *MatchResult {
	var best *MatchResult
	for _, rec := range catalog {
		score, ok := Score(desc, rec)
		if !ok {
			continue
		}
		if best == nil || score > best.Score {
			best = &MatchResult{Record: rec, Score: score}
		}
	}
	if best == nil || best.Score < MatchThreshold {
		return nil
	}
	return best
}

// Classify maps a match result onto the band used to decide whether it can be
// applied without a human.
func Classify(result *MatchResult) Band {
	switch {
	case result == nil || result.Score < MatchThreshold:
		return BandNotFound
	case result.Score >= AutoApplyThreshold:
		return BandMatched
	default:
		return BandAmbiguous
	}
}

func sectionOf(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
