package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeader = "LicenseId,LicenseName,CategoryName,Vendor,SeatsPurchased,SeatsAssigned,ExpiresOn,Notes\n"

func TestValidateHeaders(t *testing.T) {
	tests := []struct {
		name        string
		header      []string
		wantMissing []string
		wantErr     bool
	}{
		{name: "full header", header: ColumnNames()},
		{name: "required only, any case", header: []string{" licensename ", "CATEGORYNAME"}},
		{name: "unknown extras ignored", header: []string{"LicenseName", "CategoryName", "Owner"}},
		{name: "missing category", header: []string{"LicenseName", "Vendor"}, wantErr: true, wantMissing: []string{ColCategoryName}},
		{name: "missing both", header: []string{"Vendor"}, wantErr: true, wantMissing: []string{ColLicenseName, ColCategoryName}},
		{name: "repeated column", header: []string{"LicenseName", "CategoryName", "licensename"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateHeaders(tt.header)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var se *StructuralError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantMissing, se.Missing)
		})
	}
}

func TestValidateRow(t *testing.T) {
	idx, err := ValidateHeaders(ColumnNames())
	require.NoError(t, err)
	v := NewRowValidator(idx)

	tests := []struct {
		name       string
		record     []string
		wantValid  bool
		wantErrors []string
	}{
		{
			name:      "complete valid row",
			record:    []string{"", "Office 365", "Productivity", "Microsoft", "100", "80", "2026-06-30", "E3 plan"},
			wantValid: true,
		},
		{
			name:      "required fields only",
			record:    []string{"", "Slack", "Chat"},
			wantValid: true,
		},
		{
			name:       "missing required fields",
			record:     []string{"", "", "", "Vendor"},
			wantErrors: []string{"LicenseName is required.", "CategoryName is required."},
		},
		{
			name:   "every typed field invalid",
			record: []string{"abc", "Zoom", "Meetings", "", "-3", "x", "31/12/2025", ""},
			wantErrors: []string{
				"LicenseId must be a valid UUID.",
				"SeatsPurchased must be a non-negative whole number.",
				"SeatsAssigned must be a non-negative whole number.",
				"ExpiresOn must be a valid date in yyyy-MM-dd format.",
			},
		},
		{
			name:       "assigned exceeds purchased",
			record:     []string{"", "Jira", "Dev", "", "5", "6", "", ""},
			wantErrors: []string{"SeatsAssigned cannot exceed SeatsPurchased."},
		},
		{
			name:       "name too long",
			record:     []string{"", strings.Repeat("n", MaxNameLength+1), "Dev"},
			wantErrors: []string{"LicenseName must be 200 characters or fewer."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := v.ValidateRow(3, tt.record)
			assert.Equal(t, 3, row.RowNumber)
			if tt.wantValid {
				assert.True(t, row.IsValid, "errors: %v", row.Errors)
				assert.Empty(t, row.ErrorMessage)
				return
			}
			assert.False(t, row.IsValid)
			assert.Equal(t, tt.wantErrors, row.Errors)
			assert.Equal(t, strings.Join(tt.wantErrors, " "), row.ErrorMessage)
		})
	}
}

func TestValidateRow_KeepsRawAndTypedValues(t *testing.T) {
	idx, err := ValidateHeaders(ColumnNames())
	require.NoError(t, err)

	row := NewRowValidator(idx).ValidateRow(1, []string{"", " Office ", "Productivity", "", "10", "lots", "2026-01-15", ""})

	assert.False(t, row.IsValid)
	assert.Equal(t, "Office", row.LicenseName)
	require.NotNil(t, row.SeatsPurchased)
	assert.Equal(t, 10, *row.SeatsPurchased)
	assert.Nil(t, row.SeatsAssigned)
	assert.Equal(t, "lots", row.SeatsAssignedRaw)
	assert.Equal(t, "2026-01-15", FormatExpiresOn(row.ExpiresOn))
}

func TestParseFile(t *testing.T) {
	t.Run("numbers rows after the header and skips blank rows", func(t *testing.T) {
		data := "\xEF\xBB\xBF" + testHeader +
			",Office,Productivity,Microsoft,10,5,2026-01-01,\n" +
			",,,,,,,\n" +
			",Slack,Chat,,,,,\n"

		parsed, err := ParseFile([]byte(data))
		require.NoError(t, err)
		require.Len(t, parsed.Rows, 2)
		assert.Equal(t, 1, parsed.Rows[0].RowNumber)
		assert.Equal(t, 3, parsed.Rows[1].RowNumber)
		assert.Equal(t, 1, parsed.SkippedBlank)
		assert.Equal(t, ColLicenseID, parsed.Header[0], "BOM must be stripped from the first header")
	})

	t.Run("row numbers follow file lines across empty lines", func(t *testing.T) {
		data := "\n" + testHeader +
			",Office,Productivity,,,,,\n" +
			"\n\n" +
			",\"Slack\nEnterprise\",Chat,,,,,\n" +
			",Zoom,Video,,,,,\n"

		parsed, err := ParseFile([]byte(data))
		require.NoError(t, err)
		require.Len(t, parsed.Rows, 3)
		assert.Equal(t, 1, parsed.Rows[0].RowNumber)
		assert.Equal(t, 4, parsed.Rows[1].RowNumber)
		assert.Equal(t, 6, parsed.Rows[2].RowNumber)
		assert.Equal(t, 0, parsed.SkippedBlank, "empty lines are not records")
	})

	t.Run("formula-looking cells are kept as written", func(t *testing.T) {
		parsed, err := ParseFile([]byte(testHeader + `,"=""Office""",Productivity,,,,,"=""x"""` + "\n"))
		require.NoError(t, err)
		require.Len(t, parsed.Rows, 1)
		assert.Equal(t, `="Office"`, parsed.Rows[0].LicenseName)
		assert.Equal(t, `="x"`, parsed.Rows[0].Notes)
	})

	t.Run("short records read missing cells as blank", func(t *testing.T) {
		parsed, err := ParseFile([]byte("LicenseName,CategoryName,Vendor\nOffice,Productivity\n"))
		require.NoError(t, err)
		require.Len(t, parsed.Rows, 1)
		assert.True(t, parsed.Rows[0].IsValid)
		assert.Empty(t, parsed.Rows[0].Vendor)
	})

	t.Run("invalid utf8 is replaced", func(t *testing.T) {
		parsed, err := ParseFile([]byte("LicenseName,CategoryName\nOff\xffice,Productivity\n"))
		require.NoError(t, err)
		assert.Equal(t, "Off\uFFFDice", parsed.Rows[0].LicenseName)
	})

	t.Run("header only is empty", func(t *testing.T) {
		_, err := ParseFile([]byte(testHeader))
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("blank file is empty", func(t *testing.T) {
		_, err := ParseFile([]byte("  \n\n"))
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("missing required column is structural", func(t *testing.T) {
		_, err := ParseFile([]byte("LicenseName,Vendor\nOffice,Microsoft\n"))
		var se *StructuralError
		require.True(t, errors.As(err, &se), "got %v", err)
		assert.Equal(t, []string{ColCategoryName}, se.Missing)
		assert.Contains(t, err.Error(), "missing required column")
	})
}
