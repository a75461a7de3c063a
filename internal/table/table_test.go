package table

import (
	"bytes"
	"math"
	"testing"

	"dsstrack/internal/util"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSVSniffsDelimiter(t *testing.T) {
	tbl, err := ReadCSV([]byte("\xef\xbb\xbfname;city\nAcme;Berlin\nACME Inc;Berlin\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"name", "city"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, "ACME Inc", tbl.Rows[1][0])
}

func TestReadCSVPadsShortRowsAndSkipsBlank(t *testing.T) {
	tbl, err := ReadCSV([]byte("a,b,c\n1,2\n,,\n4,5,6,7\n"))
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, []string{"1", "2", ""}, tbl.Rows[0])
	require.Equal(t, []string{"4", "5", "6"}, tbl.Rows[1])
}

func TestReadCSVRejectsEmpty(t *testing.T) {
	_, err := ReadCSV(nil)
	require.ErrorIs(t, err, util.ErrValidation)

	_, err = ReadCSV([]byte("only,header\n"))
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestNormalizeHeader(t *testing.T) {
	got := normalizeHeader([]string{"name", "", "name", " name ", "name.1", ""})
	require.Equal(t, []string{"name", "Unnamed: 1", "name.1", "name.2", "name.1.1", "Unnamed: 5"}, got)
}

func TestReadRejectsUnsupported(t *testing.T) {
	_, err := Read("legacy.xls", []byte("x"))
	require.ErrorIs(t, err, util.ErrValidation)
	_, err = Read("notes.pdf", []byte("x"))
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"name", "amount"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Acme", 12}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"Globex"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	tbl, err := Read("customers.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, []string{"name", "amount"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	require.Equal(t, int64(12), tbl.Record(0)["amount"])
	require.Nil(t, tbl.Record(1)["amount"])
}

func TestReadXLSXRejectsGarbage(t *testing.T) {
	_, err := ReadXLSX(bytes.Repeat([]byte{1}, 32))
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestRowTexts(t *testing.T) {
	tbl, err := New([]string{"first", "last", "email"}, [][]string{
		{"Ada", "Lovelace", "ada@example.com"},
		{"  Ada ", "", "ada@example.com"},
	})
	require.NoError(t, err)

	texts, err := tbl.RowTexts([]string{"first", "last"})
	require.NoError(t, err)
	require.Equal(t, []string{"Ada Lovelace", "Ada"}, texts)

	_, err = tbl.RowTexts([]string{"first", "phone"})
	require.ErrorIs(t, err, util.ErrValidation)
	require.Contains(t, err.Error(), "phone")

	_, err = tbl.RowTexts(nil)
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestCellValue(t *testing.T) {
	require.Nil(t, CellValue("  "))
	require.Equal(t, int64(42), CellValue("42"))
	require.Equal(t, 3.5, CellValue("3.5"))
	require.Equal(t, "0x1p-2", CellValue("0x1p-2"))
	require.Equal(t, "Acme", CellValue("Acme"))
	require.True(t, math.IsInf(CellValue("inf").(float64), 1))
	require.True(t, math.IsNaN(CellValue("NaN").(float64)))
}

func TestHead(t *testing.T) {
	tbl, err := New([]string{"a"}, [][]string{{"1"}, {"2"}, {"3"}})
	require.NoError(t, err)
	require.Len(t, tbl.Head(2), 2)
	require.Len(t, tbl.Head(10), 3)
	require.Equal(t, []any{int64(3)}, tbl.Values(2))
}
