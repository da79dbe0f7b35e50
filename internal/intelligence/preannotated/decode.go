package preannotated

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// Format is a serialization of epi.AnnotatedDocument.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user supplied format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", errors.New(errors.ErrCodeUnsupportedFormat, "unsupported document format").WithDetail(name)
}

// FormatForPath picks the format from a file extension, falling back to
// sniffing data.
func FormatForPath(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	return SniffFormat(data)
}

// SniffFormat treats input starting with '{' as JSON and anything else as
// YAML.
func SniffFormat(data []byte) Format {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return FormatJSON
	}
	return FormatYAML
}

// Decode parses data in the given format and validates the result.
func Decode(data []byte, format Format) (*epi.AnnotatedDocument, error) {
	var doc epi.AnnotatedDocument
	if err := Unmarshal(data, format, &doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Unmarshal parses data into v without validating it. Batch envelopes use
// it so that each document is validated on its own.
func Unmarshal(data []byte, format Format, v interface{}) error {
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, v); err != nil {
			return errors.Wrap(err, errors.ErrCodeDocumentMalformed, "decode JSON document")
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, v); err != nil {
			return errors.Wrap(err, errors.ErrCodeDocumentMalformed, "decode YAML document")
		}
	default:
		return errors.New(errors.ErrCodeUnsupportedFormat, "unsupported document format").WithDetail(string(format))
	}
	return nil
}

// Encode renders v in the given format.
func Encode(v interface{}, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode YAML")
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode JSON")
		}
		return data, nil
	}
}
