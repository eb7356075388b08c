package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"utiles/internal"
)

// UnnamedItem replaces a blank stored item name. The item keeps its position
// so (name, index) references to later items stay valid.
const UnnamedItem = "(sin nombre)"

// DecodeVersions parses the stored versions document and coerces every item
// into its valid range.
func DecodeVersions(blob []byte) ([]internal.MaterialsVersion, error) {
	if len(strings.TrimSpace(string(blob))) == 0 || string(blob) == "null" {
		return []internal.MaterialsVersion{}, nil
	}
	var versions []internal.MaterialsVersion
	if err := json.Unmarshal(blob, &versions); err != nil {
		return nil, fmt.Errorf("decode materials versions: %w", err)
	}
	for i := range versions {
		versions[i] = CoerceVersion(versions[i])
	}
	return versions, nil
}

func CoerceVersion(v internal.MaterialsVersion) internal.MaterialsVersion {
	items := make([]internal.SupplyItem, 0, len(v.Items))
	for _, item := range v.Items {
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" {
			item.Name = UnnamedItem
		}
		items = append(items, CoerceItem(item))
	}
	v.Items = items
	if v.UpdatedAt.Before(v.UploadedAt) {
		v.UpdatedAt = v.UploadedAt
	}
	return v
}

func CoerceItem(item internal.SupplyItem) internal.SupplyItem {
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if item.Price < 0 {
		item.Price = 0
	}
	if !item.Approved {
		item.ApprovedAt = nil
	}
	item.ISBN = trimmedOrNil(item.ISBN)
	item.Brand = trimmedOrNil(item.Brand)
	item.Subject = trimmedOrNil(item.Subject)
	item.Description = trimmedOrNil(item.Description)
	if item.Coordinates != nil {
		c := *item.Coordinates
		if c.Page < 1 {
			c.Page = 1
		}
		c.X = clamp(c.X)
		c.Y = clamp(c.Y)
		if c.Width != nil {
			w := clamp(*c.Width)
			c.Width = &w
		}
		if c.Height != nil {
			h := clamp(*c.Height)
			c.Height = &h
		}
		item.Coordinates = &c
	}
	return item
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
