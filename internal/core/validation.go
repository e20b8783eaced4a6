package core

// validation.go turns raw CSV records into typed ImportRows.
//
// Validation happens at two levels:
//  1. Header validation (ValidateHeaders): required columns must be present,
//     otherwise the whole file is rejected before any row is read
//  2. Row validation (RowValidator): every cell is checked against its
//     FieldSpec and all failures are collected, so a row can carry several
//     messages at once
//
// Row failures are returned as data on the row. They never stop the parse.

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field/column name
	Value   string // The invalid value
	Message string // Complete user-facing sentence
}

func (e ValidationError) Error() string {
	return e.Message
}

// ValidationResult contains the result of validating a row.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// Messages returns the error sentences in rule order.
func (r ValidationResult) Messages() []string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return msgs
}

// RowValidator validates records against ImportColumns.
type RowValidator struct {
	specs     []FieldSpec
	headerIdx HeaderIndex
}

// NewRowValidator creates a validator for a header index built by ValidateHeaders.
func NewRowValidator(headerIdx HeaderIndex) *RowValidator {
	return &RowValidator{
		specs:     ImportColumns,
		headerIdx: headerIdx,
	}
}

// ValidateRow converts one record into an ImportRow with IsValid and
// ErrorMessage set. Action is left for the classifier.
func (v *RowValidator) ValidateRow(rowNumber int, record []string) ImportRow {
	row := ImportRow{
		RowNumber:         rowNumber,
		RawLicenseID:      v.headerIdx.Cell(record, ColLicenseID),
		LicenseName:       v.headerIdx.Cell(record, ColLicenseName),
		CategoryName:      v.headerIdx.Cell(record, ColCategoryName),
		Vendor:            v.headerIdx.Cell(record, ColVendor),
		Notes:             v.headerIdx.Cell(record, ColNotes),
		SeatsPurchasedRaw: v.headerIdx.Cell(record, ColSeatsPurchased),
		SeatsAssignedRaw:  v.headerIdx.Cell(record, ColSeatsAssigned),
		ExpiresOnRaw:      v.headerIdx.Cell(record, ColExpiresOn),
	}

	result := v.validate(record)

	// Typed values are kept whenever they parse, even on invalid rows.
	row.SeatsPurchased, _ = ParseSeatCount(row.SeatsPurchasedRaw)
	row.SeatsAssigned, _ = ParseSeatCount(row.SeatsAssignedRaw)
	row.ExpiresOn, _ = ParseExpiresOn(row.ExpiresOnRaw)

	if row.SeatsPurchased != nil && row.SeatsAssigned != nil && *row.SeatsAssigned > *row.SeatsPurchased {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:   ColSeatsAssigned,
			Value:   row.SeatsAssignedRaw,
			Message: fmt.Sprintf("%s cannot exceed %s.", ColSeatsAssigned, ColSeatsPurchased),
		})
	}

	row.IsValid = result.Valid
	if !result.Valid {
		row.Errors = result.Messages()
		row.ErrorMessage = joinErrors(row.Errors)
	}
	return row
}

// validate applies the per-column rules and collects every failure.
func (v *RowValidator) validate(record []string) ValidationResult {
	result := ValidationResult{Valid: true}

	for _, spec := range v.specs {
		raw := v.headerIdx.Cell(record, spec.Name)
		if err := ValidateCell(raw, spec); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, *err)
		}
	}

	return result
}

// ValidateCell checks a single cleaned value against its FieldSpec.
// Returns nil if valid.
func ValidateCell(value string, spec FieldSpec) *ValidationError {
	fail := func(format string, args ...any) *ValidationError {
		return &ValidationError{Field: spec.Name, Value: value, Message: fmt.Sprintf(format, args...)}
	}

	if value == "" {
		if spec.Required {
			return fail("%s is required.", spec.Name)
		}
		return nil
	}

	if spec.MaxLength > 0 && charCount(value) > spec.MaxLength {
		return fail("%s must be %d characters or fewer.", spec.Name, spec.MaxLength)
	}

	switch spec.Type {
	case FieldUUID:
		if _, ok := ParseLicenseID(value); !ok {
			return fail("%s must be a valid UUID.", spec.Name)
		}
	case FieldCount:
		if _, ok := ParseSeatCount(value); !ok {
			return fail("%s must be a non-negative whole number.", spec.Name)
		}
	case FieldDate:
		if _, ok := ParseExpiresOn(value); !ok {
			return fail("%s must be a valid date in yyyy-MM-dd format.", spec.Name)
		}
	}
	return nil
}

// isEmptyRow reports whether every cell of a record is blank.
func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
