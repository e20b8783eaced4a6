package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// WriteTemplate writes an empty import file: the header row only.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ColumnNames()); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// WriteRows writes rows in import-file layout followed by an ErrorMessage column.
func WriteRows(w io.Writer, rows []ImportRow) error {
	cw := csv.NewWriter(w)

	header := append(ColumnNames(), ColErrorMessage)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range rows {
		record := make([]string, 0, len(header))
		for _, spec := range ImportColumns {
			record = append(record, rowValue(row, spec.Name))
		}
		record = append(record, row.ErrorMessage)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", row.RowNumber, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// rowValue returns the cell text a row was read from.
func rowValue(row ImportRow, column string) string {
	switch column {
	case ColLicenseID:
		return row.RawLicenseID
	case ColLicenseName:
		return row.LicenseName
	case ColCategoryName:
		return row.CategoryName
	case ColVendor:
		return row.Vendor
	case ColSeatsPurchased:
		if row.SeatsPurchasedRaw != "" {
			return row.SeatsPurchasedRaw
		}
		return FormatCount(row.SeatsPurchased)
	case ColSeatsAssigned:
		if row.SeatsAssignedRaw != "" {
			return row.SeatsAssignedRaw
		}
		return FormatCount(row.SeatsAssigned)
	case ColExpiresOn:
		if row.ExpiresOnRaw != "" {
			return row.ExpiresOnRaw
		}
		return FormatExpiresOn(row.ExpiresOn)
	case ColNotes:
		return row.Notes
	default:
		return ""
	}
}

// ExportInvalidRows writes the invalid rows of a session as CSV and returns
// the number of rows written.
func (s *Service) ExportInvalidRows(ctx context.Context, id uuid.UUID, w io.Writer) (int, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return 0, err
	}
	rows, err := s.store.ListRows(ctx, id, RowFilterInvalid)
	if err != nil {
		return 0, fmt.Errorf("list invalid rows: %w", err)
	}
	if err := WriteRows(w, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ErrorsFileName derives the download name of an invalid-row export.
func ErrorsFileName(original string) string {
	base := filepath.Base(original)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "import"
	}
	return base + "-errors.csv"
}
