package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Classification is the outcome of classifying a whole file.
type Classification struct {
	Rows []ImportRow

	NewLicenses     int
	UpdatedLicenses int
	NewCategories   int
	InvalidRows     int
}

// Classify flags duplicates across all rows and then assigns every row its
// Action against snap. The input rows are not modified, so classifying the
// same rows against the same snapshot always gives the same result.
func Classify(rows []ImportRow, snap *Snapshot) *Classification {
	out := make([]ImportRow, len(rows))
	for i := range rows {
		out[i] = rows[i].clone()
		out[i].Action = RowActionNone
		out[i].LicenseID = nil
	}

	// Duplicates must be known before any Action is assigned.
	DetectDuplicates(out)

	plan := Resolver{}.Resolve(out, snap)
	byRow := make(map[int]RowResolution, len(plan.Resolutions))
	for _, res := range plan.Resolutions {
		byRow[res.RowNumber] = res
	}

	c := &Classification{Rows: out, NewCategories: plan.NewCategories}
	for i := range out {
		row := &out[i]
		if !row.IsValid {
			row.Action = RowActionInvalid
			c.InvalidRows++
			continue
		}

		res := byRow[row.RowNumber]
		row.Action = res.Action
		switch res.Action {
		case RowActionUpdate:
			id := res.LicenseID
			row.LicenseID = &id
			c.UpdatedLicenses++
		case RowActionNew:
			c.NewLicenses++
		}
	}

	return c
}

// DetectDuplicates marks every repeat of a natural key or of an explicit
// LicenseId as invalid. The first occurrence is left untouched.
func DetectDuplicates(rows []ImportRow) {
	seenKeys := make(map[string]int)
	seenIDs := make(map[uuid.UUID]int)

	for i := range rows {
		row := &rows[i]

		if strings.TrimSpace(row.LicenseName) != "" && strings.TrimSpace(row.CategoryName) != "" {
			key := NaturalKey(row.LicenseName, row.Vendor, row.CategoryName)
			if first, dup := seenKeys[key]; dup {
				row.addError(fmt.Sprintf("Duplicate license in file: same %s, %s and %s as row %d.",
					ColLicenseName, ColVendor, ColCategoryName, first))
			} else {
				seenKeys[key] = row.RowNumber
			}
		}

		if id, ok := ParseLicenseID(row.RawLicenseID); ok && id != nil {
			if first, dup := seenIDs[*id]; dup {
				row.addError(fmt.Sprintf("Duplicate %s in file: same as row %d.", ColLicenseID, first))
			} else {
				seenIDs[*id] = row.RowNumber
			}
		}
	}
}
