package core

// resolve.go matches rows to stored entities and plans the writes a commit
// performs.
//
// Resolution is pure: it reads a Snapshot and returns a Plan of intents. The
// commit engine applies the intents inside a transaction, and the classifier
// uses the same matching so that preview and commit agree on every row.

import (
	"time"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/google/uuid"
)

// IntentKind names a planned write.
type IntentKind string

const (
	IntentCreateCategory IntentKind = "CreateCategory"
	IntentCreateLicense  IntentKind = "CreateLicense"
	IntentUpdateLicense  IntentKind = "UpdateLicense"
)

// Intent is one planned write. RowNumber is the row that caused it.
type Intent struct {
	Kind      IntentKind
	RowNumber int

	// Category is the category to insert (CreateCategory).
	Category *Category

	// License is the complete target state (CreateLicense, UpdateLicense).
	License *License

	// Previous and ExpectedVersion describe the stored license an
	// UpdateLicense overwrites.
	Previous        *License
	ExpectedVersion int
}

// RowResolution is the outcome for one valid row.
type RowResolution struct {
	RowNumber  int
	Action     RowAction
	LicenseID  uuid.UUID
	CategoryID uuid.UUID
}

// Plan is the ordered list of writes for a set of rows.
type Plan struct {
	Intents     []Intent
	Resolutions []RowResolution

	NewCategories   int
	NewLicenses     int
	UpdatedLicenses int
}

// Resolver builds Plans. The zero value uses time.Now, uuid.New and the
// default thresholds.
type Resolver struct {
	Thresholds expiry.Thresholds
	Now        func() time.Time
	NewID      func() uuid.UUID
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r Resolver) newID() uuid.UUID {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.New()
}

func (r Resolver) thresholds() expiry.Thresholds {
	if r.Thresholds == (expiry.Thresholds{}) {
		return expiry.Defaults()
	}
	return r.Thresholds
}

// Resolve plans the writes for the valid rows, in the order given.
// Invalid rows are ignored. rows and snap are not modified. Stored statuses
// are computed from the system thresholds; per-license overrides only apply
// when status is reported.
func (r Resolver) Resolve(rows []ImportRow, snap *Snapshot) *Plan {
	ix := newEntityIndex(snap)
	now := r.now()
	th := r.thresholds()
	plan := &Plan{}

	// Licenses already updated in this plan, so a second update chains on the first.
	planned := make(map[uuid.UUID]*License)

	for _, row := range rows {
		if !row.IsValid {
			continue
		}

		cat := ix.category(row.CategoryName)
		if cat == nil {
			cat = &Category{
				ID:        r.newID(),
				Name:      row.CategoryName,
				Version:   1,
				CreatedAt: now,
			}
			ix.addCategory(cat)
			plan.NewCategories++
			plan.Intents = append(plan.Intents, Intent{
				Kind:      IntentCreateCategory,
				RowNumber: row.RowNumber,
				Category:  cat,
			})
		}

		res := RowResolution{RowNumber: row.RowNumber, CategoryID: cat.ID}

		if existing := ix.license(row); existing != nil {
			base := existing
			if p, ok := planned[existing.ID]; ok {
				base = p
			}

			prev := *base
			next := applyRow(prev, row, cat)
			next.Version = prev.Version + 1
			next.UpdatedAt = &now
			next.Status = th.Status(next.ExpiresOn, now)
			planned[next.ID] = &next

			res.Action = RowActionUpdate
			res.LicenseID = next.ID
			plan.UpdatedLicenses++
			plan.Intents = append(plan.Intents, Intent{
				Kind:            IntentUpdateLicense,
				RowNumber:       row.RowNumber,
				License:         &next,
				Previous:        &prev,
				ExpectedVersion: prev.Version,
			})
		} else {
			id := r.newID()
			if parsed, ok := ParseLicenseID(row.RawLicenseID); ok && parsed != nil {
				id = *parsed
			}
			lic := applyRow(License{ID: id, Version: 1, CreatedAt: now}, row, cat)
			lic.Status = th.Status(lic.ExpiresOn, now)

			res.Action = RowActionNew
			res.LicenseID = lic.ID
			plan.NewLicenses++
			plan.Intents = append(plan.Intents, Intent{
				Kind:      IntentCreateLicense,
				RowNumber: row.RowNumber,
				License:   &lic,
			})
		}

		plan.Resolutions = append(plan.Resolutions, res)
	}

	return plan
}

// applyRow overwrites the mutable license fields from row.
func applyRow(lic License, row ImportRow, cat *Category) License {
	catID := cat.ID
	lic.Name = row.LicenseName
	lic.Vendor = row.Vendor
	lic.CategoryID = &catID
	lic.CategoryName = cat.Name
	lic.SeatsPurchased = copyInt(row.SeatsPurchased)
	lic.SeatsAssigned = copyInt(row.SeatsAssigned)
	lic.ExpiresOn = copyTime(row.ExpiresOn)
	lic.Notes = row.Notes
	return lic
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// entityIndex is the in-memory lookup built from a Snapshot.
type entityIndex struct {
	categoriesByName map[string]*Category
	licensesByID     map[uuid.UUID]*License
	licensesByKey    map[string]*License
}

func newEntityIndex(snap *Snapshot) *entityIndex {
	ix := &entityIndex{
		categoriesByName: make(map[string]*Category),
		licensesByID:     make(map[uuid.UUID]*License),
		licensesByKey:    make(map[string]*License),
	}
	if snap == nil {
		return ix
	}

	namesByID := make(map[uuid.UUID]string, len(snap.Categories))
	for i := range snap.Categories {
		c := snap.Categories[i]
		namesByID[c.ID] = c.Name
		ix.addCategory(&c)
	}

	for i := range snap.Licenses {
		l := snap.Licenses[i]
		if l.CategoryName == "" && l.CategoryID != nil {
			l.CategoryName = namesByID[*l.CategoryID]
		}
		ix.licensesByID[l.ID] = &l
		key := NaturalKey(l.Name, l.Vendor, l.CategoryName)
		if _, taken := ix.licensesByKey[key]; !taken {
			ix.licensesByKey[key] = &l
		}
	}
	return ix
}

func (ix *entityIndex) addCategory(c *Category) {
	key := NormalizeKeyPart(c.Name)
	if _, taken := ix.categoriesByName[key]; !taken {
		ix.categoriesByName[key] = c
	}
}

func (ix *entityIndex) category(name string) *Category {
	return ix.categoriesByName[NormalizeKeyPart(name)]
}

// license finds the stored license a row refers to: by identifier first,
// then by natural key.
func (ix *entityIndex) license(row ImportRow) *License {
	if id, ok := ParseLicenseID(row.RawLicenseID); ok && id != nil {
		if l, found := ix.licensesByID[*id]; found {
			return l
		}
	}
	return ix.licensesByKey[NaturalKey(row.LicenseName, row.Vendor, row.CategoryName)]
}
