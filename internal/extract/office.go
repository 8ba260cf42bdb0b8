package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/lu4p/cat"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultPath     = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	openDocumentContent = "content.xml"
	pptxSlidePrefix     = "ppt/slides/slide"
)

var (
	// <w:t> runs in WordprocessingML, with any attributes.
	wordTextRe = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// <a:t> runs in DrawingML slides.
	drawingTextRe = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	// Innermost text of OpenDocument paragraphs, headings and spans.
	openDocumentTextRe = regexp.MustCompile(`<text:(?:p|h|span)[^>]*>([^<]*)<`)
	// Override elements naming the main document part, in either attribute order.
	mainPartRes = []*regexp.Regexp{
		regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`),
		regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`),
	}
)

// openZip reads content as a zip archive.
func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readEntry returns the bytes of the named entry, or nil when the archive has none.
func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, nil
}

// joinMatches joins the first group of every re match in xml with single spaces.
func joinMatches(re *regexp.Regexp, xml string) string {
	var b strings.Builder
	for _, m := range re.FindAllStringSubmatch(xml, -1) {
		s := strings.TrimSpace(m[1])
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	return b.String()
}

// extractDOCX collects every <w:t> run of the main document part. The part is located
// through [Content_Types].xml since some producers do not use word/document.xml.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	docPath := docxDefaultPath
	if types, err := readEntry(zr, contentTypesPath); err == nil && types != nil {
		for _, re := range mainPartRes {
			if m := re.FindSubmatch(types); m != nil {
				docPath = strings.TrimPrefix(string(m[1]), "/")
				break
			}
		}
	}
	doc, err := readEntry(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", docPath, err)
	}
	if doc == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	return joinMatches(wordTextRe, string(doc)), nil
}

// extractPPTX collects the <a:t> runs of every slide in slide order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	var slides []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, pptxSlidePrefix) && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f.Name)
		}
	}
	sort.Slice(slides, func(i, j int) bool {
		if len(slides[i]) != len(slides[j]) {
			return len(slides[i]) < len(slides[j])
		}
		return slides[i] < slides[j]
	})
	var texts []string
	for _, name := range slides {
		xml, err := readEntry(zr, name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: read %s: %w", name, err)
		}
		if t := joinMatches(drawingTextRe, string(xml)); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " "), nil
}

// extractOpenDocument handles .odt, .odp and .ods, which all keep their text in content.xml.
func extractOpenDocument(content []byte) (string, error) {
	zr, err := openZip(content, "OpenDocument")
	if err != nil {
		return "", err
	}
	xml, err := readEntry(zr, openDocumentContent)
	if err != nil {
		return "", fmt.Errorf("extract OpenDocument: read %s: %w", openDocumentContent, err)
	}
	if xml == nil {
		return "", fmt.Errorf("extract OpenDocument: %s not found", openDocumentContent)
	}
	return joinMatches(openDocumentTextRe, string(xml)), nil
}

// extractRTF strips RTF control words.
func extractRTF(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	return strings.TrimSpace(text), nil
}
