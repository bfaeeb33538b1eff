package spreadsheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck
	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cell, value))
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, f.Write(buf))
	return bytes.NewReader(buf.Bytes())
}

func TestReadParsesHeadersAndRows(t *testing.T) {
	r := buildWorkbook(t, [][]interface{}{
		{"roll", "name"},
		{1, "Ann"},
		{25, "Bo"},
	})

	table, err := Read(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"roll", "name"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "1", table.Rows[0]["roll"])
	assert.Equal(t, "Bo", table.Rows[1]["name"])
}

func TestReadNormalisesShortRows(t *testing.T) {
	r := buildWorkbook(t, [][]interface{}{
		{"roll", "name"},
		{7},
	})

	table, err := Read(r)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "7", table.Rows[0]["roll"])
	assert.Equal(t, "", table.Rows[0]["name"])
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a workbook")))
	require.Error(t, err)
}
