package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSV parses comma-separated sheets such as order_id,pincode,lat,lng,weight.
type CSV struct{}

func (CSV) Name() string { return "csv" }

func (CSV) Parse(r io.Reader) (Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return Result{}, fmt.Errorf("read csv: %w", err)
	}
	return rows(records)
}
