package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCSVParse(t *testing.T) {
	data := "order_id,pincode,lat,lng,weight\n" +
		"A,560001,12.90,77.60,1.5\n" +
		"B,560002,12.91,77.61,\n" +
		"C,600001,,,2\n" +
		"D,600002,abc,80.27,1\n"
	res, err := CSV{}.Parse(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.Orders, 3)

	a := res.Orders[0]
	assert.Equal(t, "A", a.ID)
	assert.Equal(t, "560001", a.Pincode)
	require.NotNil(t, a.Location)
	assert.InDelta(t, 12.90, a.Location.Lat, 1e-9)
	require.NotNil(t, a.Weight)
	assert.InDelta(t, 1.5, *a.Weight, 1e-9)

	assert.Nil(t, res.Orders[1].Weight)
	// missing coordinates are kept; planning excludes them later
	assert.Nil(t, res.Orders[2].Location)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 5, res.Skipped[0].Row)
	assert.Contains(t, res.Skipped[0].Error, "lat")
}

func TestCSVHeaderAliases(t *testing.T) {
	data := "\ufeffLatitude, Longitude ,ID\n13.05,80.27,X\n"
	res, err := CSV{}.Parse(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, "X", res.Orders[0].ID)
	assert.InDelta(t, 80.27, res.Orders[0].Location.Lng, 1e-9)
}

func TestCSVMissingHeader(t *testing.T) {
	_, err := CSV{}.Parse(strings.NewReader("pincode,weight\n1,2\n"))
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = CSV{}.Parse(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestXLSXParse(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"order_id", "pincode", "lat", "lng", "weight"},
		{"A", "560001", 12.9, 77.6, 2},
		{"B", "560002", 12.91, 77.61, 3.5},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	res, err := XLSX{}.Parse(&buf)
	require.NoError(t, err)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, "B", res.Orders[1].ID)
	assert.InDelta(t, 12.91, res.Orders[1].Location.Lat, 1e-9)
	assert.InDelta(t, 3.5, *res.Orders[1].Weight, 1e-9)
	assert.Empty(t, res.Skipped)
}

func TestForFile(t *testing.T) {
	p, err := ForFile("orders.CSV", "")
	require.NoError(t, err)
	assert.Equal(t, "csv", p.Name())

	p, err = ForFile("orders.xlsx", "")
	require.NoError(t, err)
	assert.Equal(t, "xlsx", p.Name())

	p, err = ForFile("blob", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	require.NoError(t, err)
	assert.Equal(t, "xlsx", p.Name())

	_, err = ForFile("orders.pdf", "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
