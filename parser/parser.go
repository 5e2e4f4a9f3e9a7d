// Package parser extracts text and embedded images from the document
// formats collected by endpoint agents.
package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
)

// ParseErrorKind classifies why a document could not be parsed.
type ParseErrorKind int

const (
	ErrKindOther ParseErrorKind = iota
	ErrKindEncrypted
	ErrKindCorrupt
	ErrKindUnsupported
)

// ParseError is returned for documents that cannot yield text. Callers
// branch on Kind; the pipeline downgrades these to a detection item
// instead of failing the whole scan.
type ParseError struct {
	Kind   ParseErrorKind
	Format string
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Format, e.Msg)
}

func (e *ParseError) KindLabel() string {
	switch e.Kind {
	case ErrKindEncrypted:
		return "encrypted"
	case ErrKindCorrupt:
		return "corrupt"
	case ErrKindUnsupported:
		return "unsupported"
	}
	return "error"
}

// TextRecognizer extracts text from image bytes. Implementations wrap an
// external OCR engine.
type TextRecognizer interface {
	RecognizeText(image []byte) (string, error)
}

// PDFExtractor provides PDF text and image extraction through an
// external engine.
type PDFExtractor interface {
	ExtractText(pdf []byte) (string, error)
	ExtractImages(pdf []byte) ([][]byte, error)
}

// Document is the parsed form of a collected file.
type Document struct {
	Text    string
	IsImage bool
}

// Parser turns collected files into text. OCR and PDF extraction are
// optional collaborators; without them the affected formats degrade.
type Parser struct {
	ocr TextRecognizer
	pdf PDFExtractor
}

func New(ocr TextRecognizer, pdf PDFExtractor) *Parser {
	return &Parser{ocr: ocr, pdf: pdf}
}

// zipMarkers are the entries whose presence distinguishes a healthy
// OOXML/HWPX archive from a damaged one.
var zipMarkers = map[string]string{
	"docx": "word/document.xml",
	"pptx": "ppt/presentation.xml",
	"xlsx": "xl/workbook.xml",
	"hwpx": "Contents/content.hpf",
}

var imageFormats = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true,
	"webp": true, "tiff": true,
}

// legacyFormats need platform office automation, which is out of scope.
var legacyFormats = map[string]bool{
	"hwp": true, "doc": true, "xls": true, "ppt": true,
}

// Parse extracts text from data. The format is the lowercase file
// extension without the leading dot.
func (p *Parser) Parse(data []byte, format string) (Document, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))

	switch {
	case format == "txt" || format == "csv" || format == "log" || format == "md":
		return Document{Text: decodePlainText(data)}, nil
	case format == "docx" || format == "pptx" || format == "xlsx" || format == "hwpx":
		text, err := p.parseZipDocument(data, format)
		if err != nil {
			return Document{}, err
		}
		return Document{Text: text}, nil
	case format == "pdf":
		if p.pdf == nil {
			return Document{}, &ParseError{Kind: ErrKindUnsupported, Format: format, Msg: "no pdf extractor configured"}
		}
		text, err := p.pdf.ExtractText(data)
		if err != nil {
			return Document{}, &ParseError{Kind: ErrKindOther, Format: format, Msg: err.Error()}
		}
		return Document{Text: text}, nil
	case imageFormats[format]:
		doc := Document{IsImage: true}
		if p.ocr != nil {
			text, err := p.ocr.RecognizeText(data)
			if err == nil {
				doc.Text = text
			}
		}
		return doc, nil
	case legacyFormats[format]:
		return Document{}, &ParseError{Kind: ErrKindUnsupported, Format: format, Msg: "legacy binary format requires office automation"}
	}

	return Document{}, &ParseError{Kind: ErrKindUnsupported, Format: format, Msg: "unknown format"}
}

// parseZipDocument extracts text from the XML parts of a zip-packaged
// document. An unreadable archive for these formats usually means
// password protection, which stores the payload as an OLE container.
func (p *Parser) parseZipDocument(data []byte, format string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ParseError{Kind: ErrKindEncrypted, Format: format, Msg: "not a readable archive (possibly password protected)"}
	}

	marker := zipMarkers[format]
	if marker != "" && !zipHasEntry(zr, marker) {
		return "", &ParseError{Kind: ErrKindCorrupt, Format: format, Msg: fmt.Sprintf("archive missing %s", marker)}
	}

	var parts []string
	switch format {
	case "docx":
		parts = zipEntryNames(zr, func(name string) bool {
			return name == "word/document.xml" ||
				strings.HasPrefix(name, "word/header") ||
				strings.HasPrefix(name, "word/footer")
		})
	case "pptx":
		parts = zipEntryNames(zr, func(name string) bool {
			return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
		})
	case "xlsx":
		parts = zipEntryNames(zr, func(name string) bool {
			return name == "xl/sharedStrings.xml"
		})
	case "hwpx":
		parts = zipEntryNames(zr, func(name string) bool {
			return strings.HasPrefix(name, "Contents/section") && strings.HasSuffix(name, ".xml")
		})
	}
	sort.Strings(parts)

	var b strings.Builder
	for _, name := range parts {
		content, err := readZipEntry(zr, name)
		if err != nil {
			return "", &ParseError{Kind: ErrKindCorrupt, Format: format, Msg: fmt.Sprintf("failed to read %s: %v", name, err)}
		}
		b.WriteString(stripXMLTags(string(content)))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

var xmlTagRe = regexp.MustCompile(`<[^>]+>`)
var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// stripXMLTags reduces document XML to its visible text.
func stripXMLTags(s string) string {
	s = xmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// decodePlainText assumes UTF-8 and falls back to CP949, the dominant
// legacy encoding for Korean text files.
func decodePlainText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

func zipHasEntry(zr *zip.Reader, name string) bool {
	for _, f := range zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

func zipEntryNames(zr *zip.Reader, match func(string) bool) []string {
	var names []string
	for _, f := range zr.File {
		if match(f.Name) {
			names = append(names, f.Name)
		}
	}
	return names
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
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
	return nil, fmt.Errorf("entry not found: %s", name)
}

// FormatOf returns the lowercase extension of a filename without the dot.
func FormatOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}
