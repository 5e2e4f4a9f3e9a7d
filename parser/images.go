package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// EmbeddedImage is an image carried inside a document.
type EmbeddedImage struct {
	Name string
	Data []byte
}

// imageMediaPrefixes locate embedded images inside zip-packaged formats.
var imageMediaPrefixes = map[string][]string{
	"docx": {"word/media/"},
	"pptx": {"ppt/media/"},
	"xlsx": {"xl/media/"},
	"hwpx": {"BinData/", "Contents/BinData/"},
}

// ExtractImages returns the images embedded in a document. Image files
// return themselves; formats with no extraction path return nil without
// error, since missing images only reduce face-scan coverage.
func (p *Parser) ExtractImages(data []byte, format string) ([]EmbeddedImage, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))

	if imageFormats[format] {
		return []EmbeddedImage{{Name: "image." + format, Data: data}}, nil
	}

	prefixes, ok := imageMediaPrefixes[format]
	if ok {
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, &ParseError{Kind: ErrKindEncrypted, Format: format, Msg: "not a readable archive (possibly password protected)"}
		}
		var images []EmbeddedImage
		for _, f := range zr.File {
			if !hasImagePrefix(f.Name, prefixes) || !isImageEntry(f.Name) {
				continue
			}
			content, err := readZipEntry(zr, f.Name)
			if err != nil {
				return nil, &ParseError{Kind: ErrKindCorrupt, Format: format, Msg: fmt.Sprintf("failed to read %s: %v", f.Name, err)}
			}
			images = append(images, EmbeddedImage{Name: f.Name, Data: content})
		}
		return images, nil
	}

	if format == "pdf" && p.pdf != nil {
		raw, err := p.pdf.ExtractImages(data)
		if err != nil {
			return nil, &ParseError{Kind: ErrKindOther, Format: format, Msg: err.Error()}
		}
		images := make([]EmbeddedImage, 0, len(raw))
		for i, img := range raw {
			images = append(images, EmbeddedImage{Name: fmt.Sprintf("pdf_image_%d", i), Data: img})
		}
		return images, nil
	}

	return nil, nil
}

func hasImagePrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isImageEntry(name string) bool {
	lower := strings.ToLower(name)
	for ext := range imageFormats {
		if strings.HasSuffix(lower, "."+ext) {
			return true
		}
	}
	return false
}
