package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"pupilform-server-go/models"
)

// ParsePupilRows reads pupil records from the first sheet of an Excel
// workbook. The header row names the columns, either by field key
// ("LASTNAME") or by localized label ("Name"); other columns are
// ignored. Rows without a PID are skipped. Date fields (keys ending in
// "_D") are stored as YYYY-MM-DD.
func ParsePupilRows(file io.Reader, fields []models.Pair) ([]models.Record, error) {
	f, err := excelize.OpenReader(file, excelize.Options{RawCellValue: true})
	if err != nil {
		log.Printf("Error opening Excel reader: %v", err)
		return nil, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing excel file: %v", err)
		}
	}()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, errors.New("excel file does not contain any sheets")
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		log.Printf("Error getting rows from sheet '%s': %v", sheetName, err)
		return nil, fmt.Errorf("failed to get rows from sheet %s: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return []models.Record{}, nil
	}

	columns := headerColumns(rows[0], fields)
	if _, ok := columns["PID"]; !ok {
		return nil, errors.New("excel header has no PID column")
	}

	records := []models.Record{}
	for i, row := range rows[1:] {
		rec := models.Record{}
		for key, col := range columns {
			if col < len(row) {
				if v := strings.TrimSpace(row[col]); v != "" {
					if strings.HasSuffix(key, "_D") {
						v = normalizeDate(v)
					}
					rec[key] = v
				}
			}
		}
		if rec["PID"] == "" {
			log.Printf("Skipping row %d due to missing PID", i+2)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Text layouts accepted for date cells
var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"2.1.2006",
	"01-02-06",
	"1/2/2006",
	"2006-01-02T15:04:05Z07:00",
}

// normalizeDate converts a raw date cell, either an Excel serial number
// or text in one of dateLayouts, to YYYY-MM-DD. Unrecognized values are
// returned unchanged.
func normalizeDate(v string) string {
	if serial, err := strconv.ParseFloat(v, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return v
		}
		return t.Format("2006-01-02")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return v
}

// headerColumns maps field keys to column indexes
func headerColumns(header []string, fields []models.Pair) map[string]int {
	lookup := make(map[string]string, 2*len(fields))
	for _, f := range fields {
		lookup[strings.ToLower(f.Key())] = f.Key()
		lookup[strings.ToLower(f.Label())] = f.Key()
	}
	columns := map[string]int{}
	for i, cell := range header {
		key, ok := lookup[strings.ToLower(strings.TrimSpace(cell))]
		if !ok {
			continue
		}
		if _, dup := columns[key]; !dup {
			columns[key] = i
		}
	}
	return columns
}

// ImportPupilsFromExcel reads an Excel file stream and stores its pupils
// for the given year. A non-empty klass overrides the CLASS column.
func (s *RedisService) ImportPupilsFromExcel(ctx context.Context, file io.Reader, year int, klass string) (int, error) {
	records, err := ParsePupilRows(file, s.Fields)
	if err != nil {
		return 0, err
	}

	log.Printf("Attempting to add %d pupils from Excel file for year %d", len(records), year)
	imported := 0
	for _, rec := range records {
		if klass != "" {
			rec["CLASS"] = klass
		}
		if err := s.SavePupil(ctx, year, rec); err != nil {
			log.Printf("Error adding pupil %s during import: %v", rec["PID"], err)
			continue
		}
		imported++
	}

	log.Printf("Successfully imported %d pupils for year %d", imported, year)
	return imported, nil
}
