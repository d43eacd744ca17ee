// Package sheet reads booking spreadsheets into ticket records.
package sheet

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kursadbilgin/ticket-engine/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	colNo           = "NO"
	colConfirmation = "RSVN_cfmd"
	colTicketType   = "ADT/LBR/CHD/INF"
	colPaxName      = "PAX_name"
	colEMD1         = "emd1_(Extra_RQ)"
	colPNR          = "PNR_Reference"
	colAgency       = "Travel_Agency"
)

var requiredColumns = []string{
	colNo, colConfirmation, colTicketType, colPaxName, colPNR,
	"PTN1-Dep", "PTN1_Date", "PTN1_Time", "PTN1-Arr", "PTN1_Date.1", "PTN1_Time.1",
}

// CheckFilename accepts .xlsx workbooks only.
func CheckFilename(name string) error {
	if strings.ToLower(filepath.Ext(strings.TrimSpace(name))) != ".xlsx" {
		return fmt.Errorf("%w: file must be an Excel workbook (.xlsx)", domain.ErrValidation)
	}
	return nil
}

// Parse reads the first worksheet. The first row is the header; spaces in header names
// become underscores and a repeated header gets a ".1", ".2" suffix, so the arrival
// date/time columns of a leg are "PTN1_Date.1" and "PTN1_Time.1". Blank rows are skipped.
func Parse(r io.Reader) ([]domain.TicketRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read workbook: %w", domain.ErrValidation, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrValidation)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %s: %w", domain.ErrValidation, sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s has no header row", domain.ErrValidation, sheets[0])
	}

	index := headerIndex(rows[0])
	if missing := missingColumns(index); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", domain.ErrValidation, strings.Join(missing, ", "))
	}

	records := make([]domain.TicketRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}

		get := func(col string) string {
			pos, ok := index[col]
			if !ok || pos >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[pos])
		}

		rec := domain.TicketRecord{
			No:           get(colNo),
			Confirmation: get(colConfirmation),
			TicketType:   get(colTicketType),
			PaxName:      get(colPaxName),
			EMD1:         cleanEMD(get(colEMD1)),
			PNR:          get(colPNR),
			TravelAgency: get(colAgency),
			Outbound:     leg(get, "PTN1"),
			Return:       leg(get, "PTN2"),
		}
		if rec.No == "" {
			rec.No = strconv.Itoa(i + 1)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("sheet row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

func leg(get func(string) string, prefix string) domain.FlightLeg {
	return domain.FlightLeg{
		Departure:     get(prefix + "-Dep"),
		DepartureDate: get(prefix + "_Date"),
		DepartureTime: get(prefix + "_Time"),
		Arrival:       get(prefix + "-Arr"),
		ArrivalDate:   get(prefix + "_Date.1"),
		ArrivalTime:   get(prefix + "_Time.1"),
	}
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	seen := make(map[string]int, len(header))

	for pos, raw := range header {
		name := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")
		if name == "" {
			continue
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n)
		} else {
			seen[name] = 1
		}
		index[name] = pos
	}
	return index
}

func missingColumns(index map[string]int) []string {
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// cleanEMD renders numeric cells as integers ("2.0" becomes "2").
func cleanEMD(raw string) string {
	if raw == "" {
		return ""
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return strconv.FormatInt(int64(v), 10)
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
