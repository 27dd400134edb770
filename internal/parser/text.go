package parser

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextParser handles plain text files in any common byte encoding.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	return &Document{Title: baseTitle(filename), Text: text}, nil
}

// decodeText converts data to UTF-8. A byte order mark wins, valid UTF-8
// is taken as is, and anything else goes through encoding detection.
func decodeText(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return string(data[len(utf8BOM):]), nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return decodeBytes(data, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM))
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return decodeBytes(data, unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM))
	case utf8.Valid(data):
		return string(data), nil
	}

	name := ""
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil {
		name = res.Charset
	}
	if name != "" {
		if text, err := decodeWith(data, name); err == nil {
			return text, nil
		}
	}
	enc, _, _ := charset.DetermineEncoding(data, "text/plain")
	return decodeBytes(data, enc)
}

// decodeWith decodes data using the named charset.
func decodeWith(data []byte, name string) (string, error) {
	enc, _ := charset.Lookup(name)
	if enc == nil {
		return "", fmt.Errorf("unknown charset %q", name)
	}
	return decodeBytes(data, enc)
}

func decodeBytes(data []byte, enc encoding.Encoding) (string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	return string(out), nil
}
