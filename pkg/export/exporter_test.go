package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"roll", "name", "2024-01-10_Class"},
		Rows: []map[string]string{
			{"roll": "1", "name": "Ann", "2024-01-10_Class": "Present"},
			{"roll": "25", "name": "Bo", "2024-01-10_Class": "Absent"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	payload, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "roll,name,2024-01-10_Class\n1,Ann,Present\n25,Bo,Absent\n", string(payload))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestXLSXExporterRoundTrip(t *testing.T) {
	payload, err := NewXLSXExporter().Render(sampleDataset(), "Class Attendance")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := f.GetRows("Class Attendance")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"roll", "name", "2024-01-10_Class"}, rows[0])
	assert.Equal(t, []string{"25", "Bo", "Absent"}, rows[2])
}

func TestPDFExporterRender(t *testing.T) {
	payload, err := NewPDFExporter().Render(sampleDataset(), "Class Attendance")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(payload, []byte("%PDF")))
}
