package rlm

import "testing"

func TestParseStructuredDocumentAutoDetectsMarkdown(t *testing.T) {
	doc, err := ParseStructuredDocument("# Title\n\nsome body\n\n## Sub\n\nmore text", ParseStructuredDocumentOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Format != FormatMarkdown {
		t.Fatalf("expected markdown format, got %s", doc.Format)
	}
	if len(doc.Markdown.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(doc.Markdown.Sections))
	}
	if doc.Markdown.Sections[0].Title != "Title" {
		t.Errorf("expected title 'Title', got %q", doc.Markdown.Sections[0].Title)
	}
}

func TestParseStructuredDocumentAutoDetectsCSV(t *testing.T) {
	doc, err := ParseStructuredDocument("name,age\nalice,30\nbob,25", ParseStructuredDocumentOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Format != FormatCSV {
		t.Fatalf("expected csv format, got %s", doc.Format)
	}
	if len(doc.CSV.Headers) != 2 || doc.CSV.Headers[0] != "name" {
		t.Fatalf("expected headers [name age], got %v", doc.CSV.Headers)
	}
	if len(doc.CSV.Rows) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(doc.CSV.Rows))
	}
}

func TestParseStructuredDocumentFallsBackToText(t *testing.T) {
	doc, err := ParseStructuredDocument("just a plain paragraph\nwith a second line", ParseStructuredDocumentOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Format != FormatText {
		t.Fatalf("expected text format, got %s", doc.Format)
	}
}

func TestParseStructuredDocumentCSVWithoutHeader(t *testing.T) {
	doc, err := ParseStructuredDocument("10,20\n30,40", ParseStructuredDocumentOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.CSV.Headers[0] != "col0" || doc.CSV.Headers[1] != "col1" {
		t.Fatalf("expected synthetic headers, got %v", doc.CSV.Headers)
	}
	if len(doc.CSV.Rows) != 2 {
		t.Fatalf("expected both rows retained as data, got %d", len(doc.CSV.Rows))
	}
}

func TestCSVSumColumn(t *testing.T) {
	doc, err := ParseStructuredDocument("item,amount\nwidget,10\ngadget,20.5\nbroken,not-a-number", ParseStructuredDocumentOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum, err := doc.CSV.SumColumn("amount")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 30.5 {
		t.Errorf("expected sum 30.5, got %v", sum)
	}
}

func TestCSVSumColumnUnknownColumn(t *testing.T) {
	doc, err := ParseStructuredDocument("item,amount\nwidget,10", ParseStructuredDocumentOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := doc.CSV.SumColumn("nope"); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestCSVFilterRows(t *testing.T) {
	doc, err := ParseStructuredDocument("item,amount\nwidget,10\ngadget,20\nsprocket,30", ParseStructuredDocumentOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	filtered, err := doc.CSV.FilterRows("amount", CompareGte, "20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filtered.Rows) != 2 {
		t.Fatalf("expected 2 rows >= 20, got %d", len(filtered.Rows))
	}
}

func TestCSVProjectColumns(t *testing.T) {
	doc, err := ParseStructuredDocument("name,age,city\nalice,30,nyc", ParseStructuredDocumentOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	proj, err := doc.CSV.ProjectColumns([]string{"city", "name"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(proj.Headers) != 2 || proj.Headers[0] != "city" || proj.Headers[1] != "name" {
		t.Fatalf("expected headers [city name], got %v", proj.Headers)
	}
	if proj.Rows[0][0] != "nyc" || proj.Rows[0][1] != "alice" {
		t.Fatalf("expected row [nyc alice], got %v", proj.Rows[0])
	}
}

func TestCSVProjectColumnsEmptyList(t *testing.T) {
	doc, err := ParseStructuredDocument("name,age\nalice,30", ParseStructuredDocumentOptions{Format: FormatCSV})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := doc.CSV.ProjectColumns(nil); err == nil {
		t.Fatal("expected error for empty column list")
	}
}

func TestMarkdownSectionCaseInsensitiveLookup(t *testing.T) {
	doc, err := ParseStructuredDocument("# Hello World\n\nbody text", ParseStructuredDocumentOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	section, ok := doc.Markdown.Section("hello world")
	if !ok {
		t.Fatal("expected case-insensitive section match")
	}
	if section.Body != "body text" {
		t.Errorf("expected body 'body text', got %q", section.Body)
	}
}

func TestResolveColumnByNumericIndex(t *testing.T) {
	idx, err := ResolveColumn([]string{"a", "b", "c"}, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}
}
