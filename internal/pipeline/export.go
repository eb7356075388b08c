package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"utiles/internal"
)

var exportHeaders = []string{
	"n", "asignatura", "material", "cantidad", "marca", "isbn", "precio", "comprar",
	"aprobado", "pagina", "posicion_x", "posicion_y", "region",
}

// ExportVersionToXLSX writes the latest version of course to outputPath.
func ExportVersionToXLSX(course internal.Course, outputPath string) error {
	latest := course.LatestVersion()
	if latest == nil {
		return fmt.Errorf("course %d: %w", course.ID, internal.ErrEmptyLedger)
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, item := range latest.Items {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, i+1)
		set(2, derefString(item.Subject))
		set(3, item.Name)
		set(4, item.Quantity)
		set(5, derefString(item.Brand))
		set(6, derefString(item.ISBN))
		set(7, item.Price)
		set(8, yesNo(item.ToPurchase))
		set(9, yesNo(item.Approved))
		if c := item.Coordinates; c != nil {
			set(10, c.Page)
			set(11, c.X)
			set(12, c.Y)
			set(13, derefString(c.Region))
		}
	}

	info := [][2]any{
		{"curso", course.Name},
		{"estado", string(course.ReviewState)},
		{"archivo", latest.SourceFileName},
		{"version", latest.ID},
		{"subido", latest.UploadedAt.Format("2006-01-02 15:04")},
	}
	infoSheet := "resumen"
	if _, err := f.NewSheet(infoSheet); err != nil {
		return err
	}
	for i, kv := range info {
		_ = f.SetCellValue(infoSheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(infoSheet, fmt.Sprintf("B%d", i+1), kv[1])
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func yesNo(v bool) string {
	if v {
		return "si"
	}
	return "no"
}
