package params

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	rpperrors "github.com/davidkant/rpp/internal/errors"
)

// WriteDisplayCSV writes one row per voice under abbreviated headers with
// values rounded to two decimals. It is for people, not for reloading.
func (q FeedbackQuadParams) WriteDisplayCSV(w io.Writer) error {
	return q.writeCSV(w, Abbreviations(), func(v float64) string {
		return formatFloat(math.Round(v*100) / 100)
	})
}

// WriteDataCSV writes one row per voice under the internal field names at
// full precision. ReadDataCSV loads it back.
func (q FeedbackQuadParams) WriteDataCSV(w io.Writer) error {
	return q.writeCSV(w, Names(), formatFloat)
}

func (q FeedbackQuadParams) writeCSV(w io.Writer, header []string, format func(float64) string) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, NumFields)
	for _, voice := range q {
		for i, v := range voice.values {
			row[i] = format(v)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadDataCSV parses the output of WriteDataCSV.
func ReadDataCSV(r io.Reader) (FeedbackQuadParams, error) {
	var q FeedbackQuadParams
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return q, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return q, rpperrors.MissingField("header")
	}
	header := records[0]
	if len(header) != NumFields {
		return q, fmt.Errorf("%w: header has %d columns, want %d", rpperrors.ErrArity, len(header), NumFields)
	}
	for i, name := range Names() {
		if header[i] != name {
			return q, fmt.Errorf("%w: column %d should be %q", rpperrors.ErrMissingField, i, name)
		}
	}
	rows := records[1:]
	if len(rows) != NumVoices {
		return q, fmt.Errorf("%w: expected %d voice rows, got %d", rpperrors.ErrArity, NumVoices, len(rows))
	}
	for v, row := range rows {
		if len(row) != NumFields {
			return q, fmt.Errorf("%w: voice %s has %d columns, want %d", rpperrors.ErrArity, VoiceLabels[v], len(row), NumFields)
		}
		values := make([]float64, NumFields)
		for i, cell := range row {
			f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return q, fmt.Errorf("voice %s column %s: %w", VoiceLabels[v], schema[i].Name, err)
			}
			values[i] = f
		}
		voice, err := FromList(values)
		if err != nil {
			return q, err
		}
		q[v] = voice
	}
	return q, nil
}

// formatFloat renders the shortest exact representation, keeping a
// trailing ".0" on integral values.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
