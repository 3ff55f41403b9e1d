// Package ingest turns uploaded order sheets (CSV or XLSX) into orders.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"orderbatch/internal/model"
)

// ErrUnsupportedFormat is returned for uploads that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported upload format")

// ErrNoHeader means the sheet had no header row naming lat and lng columns.
var ErrNoHeader = errors.New("header row must name lat and lng columns")

// Parser reads one uploaded file.
type Parser interface {
	Name() string
	Parse(r io.Reader) (Result, error)
}

// RowError reports a skipped row. Row is 1-based and counts the header.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type Result struct {
	Orders  []model.Order `json:"-"`
	Skipped []RowError    `json:"skipped,omitempty"`
}

// ForFile picks a parser from the file name, falling back to the content type.
func ForFile(filename, contentType string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return CSV{}, nil
	case ".xlsx", ".xlsm":
		return XLSX{}, nil
	}
	switch {
	case strings.HasPrefix(contentType, "text/csv"), strings.HasPrefix(contentType, "text/plain"):
		return CSV{}, nil
	case strings.Contains(contentType, "spreadsheetml"):
		return XLSX{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
}

// column aliases, lower case
var aliases = map[string]string{
	"order_id":  "id",
	"orderid":   "id",
	"id":        "id",
	"pincode":   "pincode",
	"pin":       "pincode",
	"zip":       "pincode",
	"lat":       "lat",
	"latitude":  "lat",
	"lng":       "lng",
	"lon":       "lng",
	"long":      "lng",
	"longitude": "lng",
	"weight":    "weight",
}

type columns map[string]int

func headerColumns(header []string) (columns, error) {
	cols := columns{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if name, ok := aliases[key]; ok {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	_, hasLat := cols["lat"]
	_, hasLng := cols["lng"]
	if !hasLat || !hasLng {
		return nil, ErrNoHeader
	}
	return cols, nil
}

func (c columns) get(rec []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// order converts one record. Empty lat/lng leave Location nil; such orders are stored but never planned.
func (c columns) order(rec []string) (model.Order, error) {
	o := model.Order{ID: c.get(rec, "id"), Pincode: c.get(rec, "pincode")}
	lat, lng := c.get(rec, "lat"), c.get(rec, "lng")
	if lat != "" && lng != "" {
		la, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return o, fmt.Errorf("lat %q: not a number", lat)
		}
		ln, err := strconv.ParseFloat(lng, 64)
		if err != nil {
			return o, fmt.Errorf("lng %q: not a number", lng)
		}
		o.Location = &model.GeoPoint{Lat: la, Lng: ln}
	}
	if w := c.get(rec, "weight"); w != "" {
		v, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return o, fmt.Errorf("weight %q: not a number", w)
		}
		o.Weight = &v
	}
	return o, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// rows applies the header and record conversion shared by both formats.
func rows(records [][]string) (Result, error) {
	if len(records) == 0 {
		return Result{}, ErrNoHeader
	}
	cols, err := headerColumns(records[0])
	if err != nil {
		return Result{}, err
	}
	var res Result
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		o, err := cols.order(rec)
		if err != nil {
			res.Skipped = append(res.Skipped, RowError{Row: i + 2, Error: err.Error()})
			continue
		}
		res.Orders = append(res.Orders, o)
	}
	return res, nil
}
