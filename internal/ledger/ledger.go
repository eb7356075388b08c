// Package ledger keeps the append-only history of supply-list versions of a
// course and derives the course review state from its latest version.
//
// Every function takes the course by value and returns the updated course.
// Slices that are modified are copied first, so the caller's value and any
// earlier version stay untouched.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"utiles/internal"
	"utiles/internal/util"
)

// AppendVersion adds version as the new latest version and recomputes the
// review state. An empty version leaves the course in Draft.
func AppendVersion(course internal.Course, version internal.MaterialsVersion, now time.Time) internal.Course {
	versions := make([]internal.MaterialsVersion, len(course.Versions), len(course.Versions)+1)
	copy(versions, course.Versions)
	version.Items = append([]internal.SupplyItem(nil), version.Items...)
	course.Versions = append(versions, version)
	return Recompute(course, now)
}

// SetItemApproval flips the approval flag of one item of the latest version.
// Setting a flag to its current value changes nothing.
func SetItemApproval(course internal.Course, ref internal.ItemRef, approved bool, now time.Time) (internal.Course, error) {
	if len(course.Versions) == 0 {
		return course, internal.ErrEmptyLedger
	}
	latest := course.Versions[len(course.Versions)-1]
	idx := findItem(latest.Items, ref)
	if idx < 0 {
		return course, fmt.Errorf("%w: %s", internal.ErrItemNotFound, describeRef(ref))
	}
	if latest.Items[idx].Approved == approved {
		return Recompute(course, now), nil
	}

	course = withMutableLatest(course)
	latest = course.Versions[len(course.Versions)-1]
	setApproval(&latest.Items[idx], approved, now)
	latest.UpdatedAt = now
	course.Versions[len(course.Versions)-1] = latest
	return Recompute(course, now), nil
}

// SetAllApproval applies approved to every item of the latest version.
func SetAllApproval(course internal.Course, approved bool, now time.Time) (internal.Course, error) {
	if len(course.Versions) == 0 {
		return course, internal.ErrEmptyLedger
	}
	course = withMutableLatest(course)
	latest := course.Versions[len(course.Versions)-1]
	changed := false
	for i := range latest.Items {
		if latest.Items[i].Approved != approved {
			setApproval(&latest.Items[i], approved, now)
			changed = true
		}
	}
	if changed {
		latest.UpdatedAt = now
	}
	course.Versions[len(course.Versions)-1] = latest
	return Recompute(course, now), nil
}

// Recompute derives the review state: Reviewed iff the latest version has at
// least one item and all of its items are approved. ReviewedAt is stamped on
// the transition to Reviewed and cleared on the way back.
func Recompute(course internal.Course, now time.Time) internal.Course {
	next := internal.ReviewDraft
	if latest := course.LatestVersion(); latest != nil && allApproved(latest.Items) {
		next = internal.ReviewReviewed
	}

	switch {
	case next == internal.ReviewReviewed && course.ReviewState != internal.ReviewReviewed:
		course.ReviewedAt = timePtr(now)
	case next == internal.ReviewReviewed && course.ReviewedAt == nil:
		course.ReviewedAt = timePtr(now)
	case next == internal.ReviewDraft:
		course.ReviewedAt = nil
	}
	course.ReviewState = next
	return course
}

// Pending returns the indexes of the latest version's items still waiting for approval.
func Pending(course internal.Course) []int {
	latest := course.LatestVersion()
	if latest == nil {
		return nil
	}
	out := make([]int, 0)
	for i, item := range latest.Items {
		if !item.Approved {
			out = append(out, i)
		}
	}
	return out
}

func allApproved(items []internal.SupplyItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.Approved {
			return false
		}
	}
	return true
}

func findItem(items []internal.SupplyItem, ref internal.ItemRef) int {
	if id := strings.TrimSpace(ref.ID); id != "" {
		for i, item := range items {
			if item.ID == id {
				return i
			}
		}
		return -1
	}
	if ref.Index < 0 || ref.Index >= len(items) {
		return -1
	}
	if util.Normalize(items[ref.Index].Name) != util.Normalize(ref.Name) {
		return -1
	}
	return ref.Index
}

func setApproval(item *internal.SupplyItem, approved bool, now time.Time) {
	item.Approved = approved
	if approved {
		item.ApprovedAt = timePtr(now)
	} else {
		item.ApprovedAt = nil
	}
}

// withMutableLatest copies the version slice and the latest version's items so
// edits do not leak into values shared with the caller.
func withMutableLatest(course internal.Course) internal.Course {
	versions := append([]internal.MaterialsVersion(nil), course.Versions...)
	last := len(versions) - 1
	versions[last].Items = append([]internal.SupplyItem(nil), versions[last].Items...)
	course.Versions = versions
	return course
}

func describeRef(ref internal.ItemRef) string {
	if ref.ID != "" {
		return "id=" + ref.ID
	}
	return fmt.Sprintf("name=%q index=%d", ref.Name, ref.Index)
}

func timePtr(t time.Time) *time.Time { return &t }
