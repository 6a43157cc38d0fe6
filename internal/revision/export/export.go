// Package export serializes revision sets to JSON, CSV, and XLSX with a
// fixed column order.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"revtrail/internal/revision/models"
	dErrors "revtrail/pkg/domain-errors"
)

// Format selects the export serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV, FormatXLSX:
		return Format(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unsupported export format %q", s)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Columns is the fixed export column order shared by all formats.
var Columns = []string{
	"ID", "Entity Name", "Entity ID", "Type", "Username",
	"Timestamp", "Changes", "Reason", "IP", "User-Agent",
}

// Filename builds the download name: revisions_<entity-or-all>_<timestamp>.<ext>.
func Filename(entityName string, f Format, now time.Time) string {
	scope := entityName
	if scope == "" {
		scope = "all"
	}
	return fmt.Sprintf("revisions_%s_%s.%s", scope, now.Format("20060102150405"), f)
}

// Write serializes the revisions in the given format.
func Write(w io.Writer, f Format, revs []*models.Revision) error {
	switch f {
	case FormatCSV:
		return writeCSV(w, revs)
	case FormatXLSX:
		return writeXLSX(w, revs)
	default:
		return writeJSON(w, revs)
	}
}

func writeJSON(w io.Writer, revs []*models.Revision) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if revs == nil {
		revs = []*models.Revision{}
	}
	return enc.Encode(revs)
}

func writeCSV(w io.Writer, revs []*models.Revision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, rev := range revs {
		record, err := row(rev)
		if err != nil {
			return err
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, revs []*models.Revision) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Revisions"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &Columns); err != nil {
		return err
	}
	for i, rev := range revs {
		record, err := row(rev)
		if err != nil {
			return err
		}
		cells := make([]any, len(record))
		for j, v := range record {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func row(rev *models.Revision) ([]string, error) {
	changes, err := json.Marshal(rev.Changes)
	if err != nil {
		return nil, fmt.Errorf("serialize changes of revision %d: %w", rev.ID, err)
	}
	return []string{
		strconv.FormatInt(rev.ID, 10),
		rev.EntityName,
		strconv.FormatInt(rev.EntityID, 10),
		string(rev.Type),
		rev.Username,
		rev.Time().UTC().Format(time.RFC3339),
		string(changes),
		rev.Reason,
		rev.IPAddress,
		rev.UserAgent,
	}, nil
}
