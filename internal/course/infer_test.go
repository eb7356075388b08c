package course

import (
	"testing"

	"utiles/internal"
)

func TestInfer(t *testing.T) {
	cases := []struct {
		label          string
		level          internal.Level
		grade          int
		section        string
		year           int
		method         internal.GradeMethod
		minConfidence  int
		wantConfidence int
	}{
		{label: "3° Básico B 2026.pdf", level: internal.LevelBasic, grade: 3, section: "B", year: 2026, method: internal.MethodArabicOrdinal, minConfidence: 90, wantConfidence: 90},
		{label: "Cuarto Medio.pdf", level: internal.LevelSecondary, grade: 4, method: internal.MethodSpelled, minConfidence: 60, wantConfidence: 60},
		{label: "II° Medio A.pdf", level: internal.LevelSecondary, grade: 2, section: "A", method: internal.MethodRoman, wantConfidence: 75},
		{label: "I Medio", level: internal.LevelSecondary, grade: 1, method: internal.MethodRoman, wantConfidence: 65},
		{label: "Lista 5 basico.PDF", level: internal.LevelBasic, grade: 5, method: internal.MethodArabic, wantConfidence: 50},
		{label: "Primero Básico A 2025", level: internal.LevelBasic, grade: 1, section: "A", year: 2025, method: internal.MethodSpelled, wantConfidence: 80},
		{label: "1° Básico", level: internal.LevelBasic, grade: 1, method: internal.MethodArabicOrdinal, wantConfidence: 80},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			got := Infer(tc.label)
			if got == nil {
				t.Fatal("got nil descriptor")
			}
			if got.Level != tc.level || got.Grade != tc.grade {
				t.Fatalf("got %s/%d want %s/%d", got.Level, got.Grade, tc.level, tc.grade)
			}
			if got.Method != tc.method {
				t.Fatalf("method=%q want %q", got.Method, tc.method)
			}
			if tc.section == "" && got.Section != nil {
				t.Fatalf("section=%q want none", *got.Section)
			}
			if tc.section != "" && (got.Section == nil || *got.Section != tc.section) {
				t.Fatalf("section=%v want %q", got.Section, tc.section)
			}
			if tc.year == 0 && got.Year != nil {
				t.Fatalf("year=%d want none", *got.Year)
			}
			if tc.year != 0 && (got.Year == nil || *got.Year != tc.year) {
				t.Fatalf("year=%v want %d", got.Year, tc.year)
			}
			if got.Confidence < tc.minConfidence || got.Confidence != tc.wantConfidence {
				t.Fatalf("confidence=%d want %d", got.Confidence, tc.wantConfidence)
			}
		})
	}
}

func TestInferRejects(t *testing.T) {
	for _, label := range []string{
		"Algebra Avanzada.pdf",
		"9 Básico.pdf",
		"5° Medio.pdf",
		"Básico.pdf",
		"",
	} {
		if got := Infer(label); got != nil {
			t.Errorf("Infer(%q)=%+v, want nil", label, *got)
		}
	}
}

func TestInferRuleOrder(t *testing.T) {
	// Roman numerals win over a spelled-out ordinal elsewhere in the label.
	got := Infer("IV Medio segundo semestre")
	if got == nil || got.Grade != 4 || got.Method != internal.MethodRoman {
		t.Fatalf("got %+v", got)
	}
}

func TestInferConfidenceCap(t *testing.T) {
	got := Infer("3° Básico B")
	if got == nil {
		t.Fatal("nil")
	}
	// 50 + 20 marker + 10 section + 10 canonical
	if got.Confidence != 90 {
		t.Fatalf("confidence=%d", got.Confidence)
	}
	for _, label := range []string{"3° Básico B 2026", "1ro Básico A 2030"} {
		if d := Infer(label); d == nil || d.Confidence > 100 {
			t.Fatalf("Infer(%q)=%+v", label, d)
		}
	}
}

func TestInferSectionAfterLevel(t *testing.T) {
	for label, want := range map[string]string{
		"LISTA Y MATERIALES 3° BÁSICO A": "A",
		"Lista Y útiles 2° Medio C 2026": "C",
		"B 3° Básico":                    "B",
	} {
		got := Infer(label)
		if got == nil {
			t.Fatalf("Infer(%q)=nil", label)
		}
		if got.Section == nil || *got.Section != want {
			t.Errorf("Infer(%q) section=%v want %q", label, got.Section, want)
		}
	}
}
