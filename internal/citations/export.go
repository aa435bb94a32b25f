package citations

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVHeader is the fixed export column order.
var CSVHeader = []string{"Title", "Standard", "Section", "Type", "Date", "URL", "Notes", "Tags"}

const tagSeparator = "; "

// WriteCSV writes cs as RFC 4180 CSV with a header row.
func WriteCSV(w io.Writer, cs []Citation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, c := range cs {
		row := []string{c.Title, c.Standard, c.Section, string(c.Type), c.Date, c.URL, c.Notes, strings.Join(c.Tags, tagSeparator)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing citation %s: %w", c.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an export back into citations (without ids or timestamps).
func ReadCSV(r io.Reader) ([]Citation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("reading csv: missing header")
	}

	out := make([]Citation, 0, len(rows)-1)
	for _, row := range rows[1:] {
		c := Citation{
			Title:    row[0],
			Standard: row[1],
			Section:  row[2],
			Type:     Type(row[3]),
			Date:     row[4],
			URL:      row[5],
			Notes:    row[6],
			Tags:     []string{},
		}
		if row[7] != "" {
			c.Tags = strings.Split(row[7], tagSeparator)
		}
		out = append(out, c)
	}
	return out, nil
}
