package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVRender(t *testing.T) {
	table := Table{
		Columns: []string{"Name", "Present"},
		Rows: []map[string]string{
			{"Name": "Ana", "Present": "yes"},
			{"Name": "José"},
		},
	}
	data, err := NewCSVExporter().Render(table)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM))
	require.Equal(t, "Name,Present\nAna,yes\nJosé,\n", string(data[len(utf8BOM):]))
}

func TestCSVRenderRequiresColumns(t *testing.T) {
	_, err := NewCSVExporter().Render(Table{})
	require.Error(t, err)
}
