package pipeline

import (
	"fmt"

	"utiles/internal"
	"utiles/internal/catalog"
	"utiles/internal/course"
)

// Resolution is the outcome of resolving a file label against the catalog.
type Resolution struct {
	Descriptor *internal.CourseDescriptor
	Match      *course.MatchResult
	Band       course.Band
}

// ResolveCourse infers a course from label and matches it against the
// candidates of idx. It fails with internal.ErrInferenceFailed when the label
// has no level or grade, and with internal.ErrNoConfidentMatch (carrying the
// descriptor in the returned Resolution) when nothing scores high enough.
func ResolveCourse(label string, idx *catalog.Index) (Resolution, error) {
	desc := course.Infer(label)
	if desc == nil {
		return Resolution{Band: course.BandNotFound}, fmt.Errorf("%w: %q", internal.ErrInferenceFailed, label)
	}
	res := Resolution{Descriptor: desc}
	res.Match = course.Match(*desc, idx.Candidates(desc.Level, desc.Grade))
	res.Band = course.Classify(res.Match)
	if res.Match == nil {
		return res, fmt.Errorf("%w: %q", internal.ErrNoConfidentMatch, label)
	}
	return res, nil
}

// recordFromDescriptor builds the catalog record created for an unmatched label.
func recordFromDescriptor(desc internal.CourseDescriptor) internal.CourseRecord {
	rec := internal.CourseRecord{
		Level:   desc.Level,
		Grade:   desc.Grade,
		Section: desc.Section,
		Year:    desc.Year,
	}
	rec.Name = catalog.DisplayName(rec)
	return rec
}
