package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/xuri/excelize/v2"
)

func TestExtract_page(t *testing.T) {
	item := &models.ContentItem{
		Title: "Returns",
		Body: []models.Block{
			{Type: "heading", Value: "<h2>Return policy</h2>"},
			{Type: "paragraph", Value: "<p>Our return policy allows&nbsp;30 days &amp; more.</p>"},
			{Type: "card", Value: map[string]any{"title": "Note", "count": 3.0, "body": "Keep receipts."}},
			{Type: "list", Value: []any{"one", "two"}},
			{Type: "image", Value: 42.0},
		},
		Fields: map[string]string{"summary": "Short summary", "intro": "<b>Intro</b>"},
	}
	got, err := NewExtractor().Extract(item)
	if err != nil {
		t.Fatal(err)
	}
	want := "Returns Return policy Our return policy allows 30 days & more. Keep receipts. Note one two Intro Short summary"
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestExtract_emptyPage(t *testing.T) {
	got, err := NewExtractor().Extract(&models.ContentItem{Body: []models.Block{{Type: "p", Value: "  <br/> "}}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestExtract_preExtractedText(t *testing.T) {
	got, _ := NewExtractor().Extract(&models.ContentItem{Title: "T", Text: "already\n\nplain", Body: []models.Block{{Value: "ignored"}}})
	if got != "T already plain" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_sourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.html")
	if err := os.WriteFile(path, []byte("<html><head><style>p{}</style><script>x()</script></head><body><p>Open 9&ndash;5</p></body></html>"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(&models.ContentItem{Title: "FAQ", SourcePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if got != "FAQ Open 9–5" {
		t.Errorf("got %q", got)
	}
}

func TestExtractFile_nonexistent(t *testing.T) {
	if _, err := NewExtractor().ExtractFile("/nonexistent/file.txt"); err == nil {
		t.Error("expected error")
	}
}

func TestExtractBytes_unsupported(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("x"), ".exe")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v", err)
	}
	if Supported(".exe") || !Supported(".PDF") {
		t.Error("Supported mismatch")
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	got, _ := NewExtractor().ExtractBytes([]byte("hello\x80world"), ".txt")
	if got != "hello�world" {
		t.Errorf("got %q", got)
	}
}

func TestCleanHTML(t *testing.T) {
	tests := []struct{ in, want string }{
		{"<p>a</p><p>b</p>", "a b"},
		{"&lt;tag&gt; &quot;q&quot;", `<tag> "q"`},
		{"  spaced \n\t out  ", "spaced out"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanHTML(tt.in); got != tt.want {
			t.Errorf("CleanHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Sheet1:\nTitle\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(body))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const wordDoc = `<w:document><w:body><w:p w:rsidR="1"><w:r><w:t>Searchable</w:t></w:r><w:r><w:t xml:space="preserve"> docx </w:t></w:r></w:p></w:body></w:document>`

func TestExtractBytes_docx(t *testing.T) {
	got, err := NewExtractor().ExtractBytes(zipOf(t, map[string]string{"word/document.xml": wordDoc}), ".docx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Searchable docx" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	for name, override := range map[string]string{
		"part name first":    `<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`,
		"content type first": `<Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/>`,
	} {
		t.Run(name, func(t *testing.T) {
			content := zipOf(t, map[string]string{
				contentTypesPath:     `<Types>` + override + `</Types>`,
				"word/document2.xml": wordDoc,
			})
			got, err := NewExtractor().ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatal(err)
			}
			if got != "Searchable docx" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_docxMissingPart(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes(zipOf(t, map[string]string{"other.xml": ""}), ".docx"); err == nil {
		t.Error("expected error")
	}
	if _, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error")
	}
}

func TestExtractBytes_pptxSlideOrder(t *testing.T) {
	slide := func(s string) string { return `<p:sld><a:p><a:r><a:t>` + s + `</a:t></a:r></a:p></p:sld>` }
	content := zipOf(t, map[string]string{
		"ppt/slides/slide10.xml": slide("Tenth"),
		"ppt/slides/slide2.xml":  slide("Second"),
		"ppt/slides/slide1.xml":  slide("First"),
	})
	got, err := NewExtractor().ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatal(err)
	}
	if got != "First Second Tenth" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_openDocument(t *testing.T) {
	xml := `<office:body><text:h text:outline-level="1">Heading</text:h><text:p>Para with <text:span>span</text:span></text:p><table:table-cell><text:p>Cell</text:p></table:table-cell></office:body>`
	for _, ext := range []string{".odt", ".odp", ".ods"} {
		got, err := NewExtractor().ExtractBytes(zipOf(t, map[string]string{"content.xml": xml}), ext)
		if err != nil {
			t.Fatalf("%s: %v", ext, err)
		}
		if got != "Heading Para with span Cell" {
			t.Errorf("%s: got %q", ext, got)
		}
	}
	if _, err := NewExtractor().ExtractBytes(zipOf(t, map[string]string{"meta.xml": ""}), ".odt"); err == nil {
		t.Error("expected error for missing content.xml")
	}
}
