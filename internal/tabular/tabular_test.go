package tabular

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDetectFormat(t *testing.T) {
	for path, want := range map[string]Format{
		"students.csv":  FormatDelimited,
		"students.TSV":  FormatDelimited,
		"students.xlsx": FormatSpreadsheet,
		"students.pdf":  FormatDocument,
	} {
		got, err := DetectFormat(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := DetectFormat("students.docx")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	_, err = Read("/nonexistent/students.json")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	_, err = DetectFormat("students.XLS")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), ".xlsx")
}

func TestRead_CSV(t *testing.T) {
	path := writeFile(t, "students.csv", []byte("Name,Roll No,Date\nBulk User 1,B001,2024-01-01\n,,\nBulk User 2,B002,2024-01-01\n"))
	tbl, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Roll No", "Date"}, tbl.Header)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "B002", tbl.Cell(1, 1))
	assert.Equal(t, map[string]string{"Name": "Bulk User 1", "Roll No": "B001", "Date": "2024-01-01"}, tbl.Row(0))
	assert.False(t, tbl.Positional)
}

func TestRead_CSVWithBOMAndSemicolons(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Student Name;Registration;Photo\n\"Kumar, Anita\";R007;\n")...)
	tbl, err := Read(writeFile(t, "export.csv", data))
	require.NoError(t, err)
	assert.Equal(t, []string{"Student Name", "Registration", "Photo"}, tbl.Header)
	assert.Equal(t, "Kumar, Anita", tbl.Cell(0, 0))
}

func TestRead_UTF16CSV(t *testing.T) {
	// "Name,Roll\nA,1\n" in UTF-16LE with BOM
	text := "Name,Roll\nA,1\n"
	data := []byte{0xFF, 0xFE}
	for _, c := range text {
		data = append(data, byte(c), 0)
	}
	tbl, err := Read(writeFile(t, "utf16.csv", data))
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Roll"}, tbl.Header)
	assert.Equal(t, "1", tbl.Cell(0, 1))
}

func TestRead_TSV(t *testing.T) {
	tbl, err := Read(writeFile(t, "s.tsv", []byte("name\troll\nA, B\tR1\n")))
	require.NoError(t, err)
	assert.Equal(t, "A, B", tbl.Cell(0, 0))
}

func TestRead_Spreadsheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Full Name", "Roll Number", "Photo Link"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Anita Kumar", "R007", "https://drive.google.com/open?id=abc"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"Ravi Teja", 1234}))
	path := filepath.Join(t.TempDir(), "students.xlsx")
	require.NoError(t, f.SaveAs(path))

	tbl, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Full Name", "Roll Number", "Photo Link"}, tbl.Header)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "R007", tbl.Cell(0, 1))
	assert.Equal(t, "1234", tbl.Cell(1, 1))
	assert.Equal(t, "", tbl.Cell(1, 2))
}

func TestRead_CorruptDocument(t *testing.T) {
	_, err := Read(writeFile(t, "broken.pdf", []byte("not a pdf")))
	require.Error(t, err)
}

// pdfCell is one line of text placed at an absolute position on the page.
type pdfCell struct {
	X, Y float64
	Text string
}

// buildPDF writes a one-page PDF in Courier 10pt with the given cells.
func buildPDF(t *testing.T, cells []pdfCell) []byte {
	t.Helper()
	var content bytes.Buffer
	content.WriteString("BT\n/F1 10 Tf\n")
	for _, c := range cells {
		fmt.Fprintf(&content, "1 0 0 1 %g %g Tm\n(%s) Tj\n", c.X, c.Y, c.Text)
	}
	content.WriteString("ET\n")

	widths := bytes.Repeat([]byte("600 "), 126-32+1)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [" +
			string(bytes.TrimSpace(widths)) + "] >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()),
	}

	var doc bytes.Buffer
	doc.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = doc.Len()
		fmt.Fprintf(&doc, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := doc.Len()
	fmt.Fprintf(&doc, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&doc, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&doc, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return doc.Bytes()
}

func TestRead_DocumentTable(t *testing.T) {
	doc := buildPDF(t, []pdfCell{
		{50, 700, "Roll No"}, {200, 700, "Student Name"},
		{50, 680, "R007"}, {200, 680, "ANITA KUMAR"},
		{50, 660, "R008"}, {200, 660, "RAVI"},
		{50, 620, "Generated by the exam cell"},
	})
	tbl, err := Read(writeFile(t, "roster.pdf", doc))
	require.NoError(t, err)
	assert.False(t, tbl.Positional)
	assert.Equal(t, []string{"Roll No", "Student Name"}, tbl.Header)
	assert.Equal(t, [][]string{{"R007", "ANITA KUMAR"}, {"R008", "RAVI"}}, tbl.Rows)
}

func TestRead_DocumentWithoutTable(t *testing.T) {
	doc := buildPDF(t, []pdfCell{
		{50, 700, "Dear students,"},
		{50, 680, "the roster will be published next week."},
	})
	_, err := Read(writeFile(t, "notice.pdf", doc))
	assert.ErrorIs(t, err, ErrNoTabularData)
}

func TestFromExtracted_HeaderHeuristic(t *testing.T) {
	tbl := fromExtracted([][]string{{"S.No", "Student Name", "Roll"}, {"1", "Anita", "R007"}})
	assert.False(t, tbl.Positional)
	assert.Equal(t, []string{"S.No", "Student Name", "Roll"}, tbl.Header)
	assert.Equal(t, 1, tbl.Len())

	tbl = fromExtracted([][]string{{"1", "Anita", "R007"}, {"2", "Ravi", "R008", "extra"}})
	assert.True(t, tbl.Positional)
	assert.Equal(t, []string{"0", "1", "2", "3"}, tbl.Header)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "", tbl.Cell(0, 3))
}

func TestCellsFromSpans(t *testing.T) {
	// glyph-level spans: "R007" then a wide gap then "ANITA KUMAR" with a narrow word gap
	var spans []span
	x := 50.0
	for _, c := range "ANITA" {
		spans = append(spans, span{X: x, W: 6, Size: 10, S: string(c)})
		x += 6
	}
	x += 3 // word gap, no space glyph
	for _, c := range "KUMAR" {
		spans = append(spans, span{X: x, W: 6, Size: 10, S: string(c)})
		x += 6
	}
	spans = append(spans, span{X: 10, W: 24, Size: 10, S: "R007"})

	assert.Equal(t, []string{"R007", "ANITA KUMAR"}, cellsFromSpans(spans))
	assert.Nil(t, cellsFromSpans(nil))
}
