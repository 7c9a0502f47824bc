package evaluate

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteReport serializes a report as newline-delimited text: one
// three-line block per successfully transcribed item, with latency in
// seconds, lowercased trimmed ground truth, lowercased trimmed
// transcription. Failed items have no representation in this format
// and are omitted.
func WriteReport(w io.Writer, r *Report) error {
	for _, res := range r.Results {
		if res.Failed() {
			continue
		}
		_, err := fmt.Fprintf(w, "%s\n%s\n%s\n",
			strconv.FormatFloat(*res.Latency, 'f', -1, 64),
			strings.ToLower(strings.TrimSpace(res.Truth)),
			strings.ToLower(strings.TrimSpace(*res.Text)))
		if err != nil {
			return err
		}
	}
	return nil
}

// ReportRecord is one parsed block of an exported report.
type ReportRecord struct {
	Latency float64
	Truth   string
	Text    string
}

// ParseReport reads an exported report back into records. Round-trips
// WriteReport for every successfully transcribed item.
func ParseReport(r io.Reader) ([]ReportRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []ReportRecord
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) < 3 {
			continue
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(lines[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("record %d: bad latency %q: %w", len(out)+1, lines[0], err)
		}
		out = append(out, ReportRecord{Latency: lat, Truth: lines[1], Text: lines[2]})
		lines = lines[:0]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) != 0 {
		return nil, fmt.Errorf("truncated report: %d trailing lines", len(lines))
	}
	return out, nil
}
