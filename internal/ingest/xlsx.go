package ingest

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSX parses the first worksheet of an Excel workbook.
type XLSX struct{}

func (XLSX) Name() string { return "xlsx" }

func (XLSX) Parse(r io.Reader) (Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Result{}, ErrNoHeader
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return Result{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows(records)
}
