package rlm

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// StructuredFormat is the tagged variant a StructuredDocument carries.
type StructuredFormat string

const (
	FormatAuto     StructuredFormat = "auto"
	FormatText     StructuredFormat = "text"
	FormatMarkdown StructuredFormat = "markdown"
	FormatCSV      StructuredFormat = "csv"
)

// MarkdownSection is one heading-delimited region of a markdown document.
type MarkdownSection struct {
	Title     string `json:"title"`
	Level     int    `json:"level"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Body      string `json:"body"`
}

// CSVDoc holds the parsed table shape of a csv StructuredDocument.
type CSVDoc struct {
	Delimiter string
	Headers   []string
	Rows      [][]string
}

// StructuredDocument is the in-memory IR for text/markdown/csv documents,
// per spec §3/§4.3.
type StructuredDocument struct {
	Format    StructuredFormat
	LineCount int
	RawLength int

	Markdown *MarkdownDoc
	CSV      *CSVDoc
}

// MarkdownDoc holds the section list of a markdown StructuredDocument.
type MarkdownDoc struct {
	Sections []MarkdownSection
}

// ParseStructuredDocumentOptions configures ParseStructuredDocument.
type ParseStructuredDocumentOptions struct {
	Format    StructuredFormat
	Delimiter string
}

var headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// ParseStructuredDocument builds a StructuredDocument from raw text, per the
// auto-detection rules in spec §4.3.
func ParseStructuredDocument(prompt string, opts ParseStructuredDocumentOptions) (*StructuredDocument, error) {
	format := opts.Format
	if format == "" || format == FormatAuto {
		format = detectFormat(prompt, opts.Delimiter)
	}

	lines := splitLines(prompt)
	doc := &StructuredDocument{
		Format:    format,
		LineCount: len(lines),
		RawLength: len(prompt),
	}

	switch format {
	case FormatMarkdown:
		doc.Markdown = &MarkdownDoc{Sections: parseMarkdownSections(lines)}
	case FormatCSV:
		delimiter := opts.Delimiter
		if delimiter == "" {
			delimiter = ","
		}
		csvDoc, err := parseCSV(lines, delimiter)
		if err != nil {
			return nil, err
		}
		doc.CSV = csvDoc
	case FormatText:
		// no additional structure
	default:
		return nil, fmt.Errorf("unknown structured document format: %s", format)
	}

	return doc, nil
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func detectFormat(prompt string, delimiter string) StructuredFormat {
	for _, line := range splitLines(prompt) {
		if headingLine.MatchString(line) {
			return FormatMarkdown
		}
	}

	sep := delimiter
	if sep == "" {
		sep = ","
	}
	nonEmpty := make([]string, 0)
	for _, line := range splitLines(prompt) {
		if strings.TrimSpace(line) != "" {
			nonEmpty = append(nonEmpty, line)
		}
	}
	if len(nonEmpty) >= 2 {
		cellCount := len(strings.Split(nonEmpty[0], sep))
		if cellCount >= 2 {
			allMatch := true
			for _, line := range nonEmpty {
				if len(strings.Split(line, sep)) != cellCount {
					allMatch = false
					break
				}
			}
			if allMatch {
				return FormatCSV
			}
		}
	}

	return FormatText
}

func parseMarkdownSections(lines []string) []MarkdownSection {
	var sections []MarkdownSection
	var headingIdx []int
	var levels []int
	var titles []string

	for i, line := range lines {
		if m := headingLine.FindStringSubmatch(line); m != nil {
			headingIdx = append(headingIdx, i)
			levels = append(levels, len(m[1]))
			titles = append(titles, strings.TrimSpace(m[2]))
		}
	}

	for i, start := range headingIdx {
		level := levels[i]
		end := len(lines) - 1
		for j := i + 1; j < len(headingIdx); j++ {
			if levels[j] <= level {
				end = headingIdx[j] - 1
				break
			}
		}
		bodyStart := start + 1
		bodyLines := lines[min(bodyStart, len(lines)):min(end+1, len(lines))]
		body := trimBlankEdges(bodyLines)
		sections = append(sections, MarkdownSection{
			Title:     titles[i],
			Level:     level,
			StartLine: start,
			EndLine:   end,
			Body:      body,
		})
	}

	return sections
}

func trimBlankEdges(lines []string) string {
	start := 0
	end := len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func parseCSV(lines []string, delimiter string) (*CSVDoc, error) {
	var rows [][]string
	for _, line := range lines {
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, delimiter))
	}
	if len(rows) == 0 {
		return &CSVDoc{Delimiter: delimiter}, nil
	}

	headers, dataRows := detectHeader(rows)
	return &CSVDoc{Delimiter: delimiter, Headers: headers, Rows: dataRows}, nil
}

func detectHeader(rows [][]string) ([]string, [][]string) {
	first := rows[0]
	firstAllNonNumeric := true
	for _, cell := range first {
		if isNumeric(cell) {
			firstAllNonNumeric = false
			break
		}
	}

	hasHeader := false
	if firstAllNonNumeric && len(rows) > 1 {
		second := rows[1]
		for i, cell := range first {
			if i < len(second) && !isNumeric(cell) && isNumeric(second[i]) {
				hasHeader = true
				break
			}
		}
	}

	if hasHeader {
		return first, rows[1:]
	}

	headers := make([]string, len(first))
	for i := range headers {
		headers[i] = fmt.Sprintf("col%d", i)
	}
	return headers, rows
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// ResolveColumn resolves a column reference against headers. Numeric
// strings are treated as a non-negative column index; otherwise the column
// is matched by exact header name, then case-insensitively.
func ResolveColumn(headers []string, column string) (int, error) {
	if idx, err := strconv.Atoi(strings.TrimSpace(column)); err == nil {
		if idx < 0 || idx >= len(headers) {
			return 0, fmt.Errorf("csv column not found: %s", column)
		}
		return idx, nil
	}

	for i, h := range headers {
		if h == column {
			return i, nil
		}
	}
	lower := strings.ToLower(column)
	for i, h := range headers {
		if strings.ToLower(h) == lower {
			return i, nil
		}
	}
	return 0, fmt.Errorf("csv column not found: %s", column)
}

// SumColumn sums the numeric cells of a column, skipping empty and
// non-numeric cells.
func (d *CSVDoc) SumColumn(column string) (float64, error) {
	idx, err := ResolveColumn(d.Headers, column)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, row := range d.Rows {
		if idx >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		if v, err := strconv.ParseFloat(cell, 64); err == nil {
			sum += v
		}
	}
	return sum, nil
}

// RowComparator is the set of row-filter comparators from spec §4.3.
type RowComparator string

const (
	CompareEq       RowComparator = "eq"
	CompareContains RowComparator = "contains"
	CompareGt       RowComparator = "gt"
	CompareGte      RowComparator = "gte"
	CompareLt       RowComparator = "lt"
	CompareLte      RowComparator = "lte"
)

// FilterRows selects rows whose column value satisfies comparator against
// value, returning a new CSVDoc with the same headers.
func (d *CSVDoc) FilterRows(column string, comparator RowComparator, value string) (*CSVDoc, error) {
	idx, err := ResolveColumn(d.Headers, column)
	if err != nil {
		return nil, err
	}
	if comparator == "" {
		comparator = CompareEq
	}

	var filtered [][]string
	for _, row := range d.Rows {
		cell := ""
		if idx < len(row) {
			cell = row[idx]
		}
		if rowMatches(cell, comparator, value) {
			filtered = append(filtered, row)
		}
	}

	return &CSVDoc{Delimiter: d.Delimiter, Headers: d.Headers, Rows: filtered}, nil
}

func rowMatches(cell string, comparator RowComparator, value string) bool {
	cell = normalizeNull(cell)
	value = normalizeNull(value)

	switch comparator {
	case CompareEq:
		return strings.TrimSpace(cell) == strings.TrimSpace(value)
	case CompareContains:
		return strings.Contains(strings.TrimSpace(cell), strings.TrimSpace(value))
	case CompareGt, CompareGte, CompareLt, CompareLte:
		left, lok := parseFiniteFloat(cell)
		right, rok := parseFiniteFloat(value)
		if !lok || !rok {
			return false
		}
		switch comparator {
		case CompareGt:
			return left > right
		case CompareGte:
			return left >= right
		case CompareLt:
			return left < right
		case CompareLte:
			return left <= right
		}
	}
	return false
}

func normalizeNull(s string) string {
	if s == "null" {
		return ""
	}
	return s
}

func parseFiniteFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ProjectionResult is the output of ProjectColumns.
type ProjectionResult struct {
	Headers []string
	Rows    [][]string
	Indices []int
}

// ProjectColumns projects the document to a non-empty column list. Missing
// cells become empty strings.
func (d *CSVDoc) ProjectColumns(columns []string) (*ProjectionResult, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("doc_project_columns requires a non-empty column list")
	}

	indices := make([]int, len(columns))
	headers := make([]string, len(columns))
	for i, col := range columns {
		idx, err := ResolveColumn(d.Headers, col)
		if err != nil {
			return nil, err
		}
		indices[i] = idx
		headers[i] = d.Headers[idx]
	}

	rows := make([][]string, len(d.Rows))
	for r, row := range d.Rows {
		projected := make([]string, len(indices))
		for i, idx := range indices {
			if idx < len(row) {
				projected[i] = row[idx]
			}
		}
		rows[r] = projected
	}

	return &ProjectionResult{Headers: headers, Rows: rows, Indices: indices}, nil
}

// Section looks up a markdown section by title: exact match first, then
// case-insensitive.
func (m *MarkdownDoc) Section(title string) (*MarkdownSection, bool) {
	for i := range m.Sections {
		if m.Sections[i].Title == title {
			return &m.Sections[i], true
		}
	}
	lower := strings.ToLower(title)
	for i := range m.Sections {
		if strings.ToLower(m.Sections[i].Title) == lower {
			return &m.Sections[i], true
		}
	}
	return nil, false
}
