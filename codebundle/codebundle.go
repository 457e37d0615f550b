// Package codebundle converts source files to and from the hosting provider's
// upload format: a JSON array of {language, name, value} objects serialized a
// second time into a string, carried in the "code" field of the request body.
//
// Nothing outside this package should see the encoded string; callers pass
// []interfaces.SourceFile and receive []interfaces.SourceFile.
package codebundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
)

var (
	// ErrInvalidBundle is returned for bundles that cannot be encoded.
	ErrInvalidBundle = errors.New("invalid source bundle")

	// ErrCodeNotString is returned when an upload body carries "code" as anything
	// other than a string containing a JSON array.
	ErrCodeNotString = errors.New(`upload body "code" field must be a JSON-encoded string`)
)

type wireFile struct {
	Language string `json:"language"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// UploadBody is the upload request body.
type UploadBody struct {
	Code string `json:"code"`
}

// Encode serializes files into the double-encoded string form.
func Encode(files []interfaces.SourceFile) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("%w: no files", ErrInvalidBundle)
	}

	seen := make(map[string]struct{}, len(files))
	wire := make([]wireFile, 0, len(files))
	for i, f := range files {
		if f.Filename == "" {
			return "", fmt.Errorf("%w: file %d has no filename", ErrInvalidBundle, i)
		}
		if f.Language == "" {
			return "", fmt.Errorf("%w: file %s has no language", ErrInvalidBundle, f.Filename)
		}
		if _, dup := seen[f.Filename]; dup {
			return "", fmt.Errorf("%w: duplicate filename %s", ErrInvalidBundle, f.Filename)
		}
		seen[f.Filename] = struct{}{}

		wire = append(wire, wireFile{Language: f.Language, Name: f.Filename, Value: f.Content})
	}

	inner, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("could not encode bundle: %w", err)
	}

	return string(inner), nil
}

// NewUploadBody returns the complete upload request body for files.
func NewUploadBody(files []interfaces.SourceFile) ([]byte, error) {
	encoded, err := Encode(files)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(UploadBody{Code: encoded})
	if err != nil {
		return nil, fmt.Errorf("could not encode upload body: %w", err)
	}

	return body, nil
}

// ValidateUploadBody checks that body is an object whose "code" field is a
// string which itself parses to a JSON array.
func ValidateUploadBody(body []byte) error {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: body is not a JSON object: %w", ErrCodeNotString, err)
	}

	raw, ok := payload["code"]
	if !ok {
		return fmt.Errorf("%w: missing", ErrCodeNotString)
	}

	var code string
	if err := json.Unmarshal(raw, &code); err != nil {
		return fmt.Errorf("%w: got %s", ErrCodeNotString, jsonKind(raw))
	}

	var files []json.RawMessage
	if err := json.Unmarshal([]byte(code), &files); err != nil {
		return fmt.Errorf("%w: string content is not a JSON array: %w", ErrCodeNotString, err)
	}

	return nil
}

// Decode reverses Encode.
func Decode(encoded string) ([]interfaces.SourceFile, error) {
	var wire []wireFile
	if err := json.Unmarshal([]byte(encoded), &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}

	files := make([]interfaces.SourceFile, 0, len(wire))
	for _, w := range wire {
		files = append(files, interfaces.SourceFile{Filename: w.Name, Language: w.Language, Content: w.Value})
	}
	return files, nil
}

// DecodeUploadBody extracts the files from a complete upload request body.
func DecodeUploadBody(body []byte) ([]interfaces.SourceFile, error) {
	if err := ValidateUploadBody(body); err != nil {
		return nil, err
	}

	var payload UploadBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return Decode(payload.Code)
}

var languages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".go":   "go",
	".rs":   "rust",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".md":   "markdown",
	".txt":  "text",
}

// LanguageForFilename infers the language tag from the file extension, or "" if unknown.
func LanguageForFilename(name string) string {
	return languages[strings.ToLower(filepath.Ext(name))]
}

// LoadFiles reads paths from disk in order. The first path is the entry file.
// Files are named by their base name; unknown extensions are tagged "text".
func LoadFiles(paths []string) ([]interfaces.SourceFile, error) {
	files := make([]interfaces.SourceFile, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("could not read source file: %w", err)
		}

		language := LanguageForFilename(p)
		if language == "" {
			language = "text"
		}

		files = append(files, interfaces.SourceFile{
			Filename: filepath.Base(p),
			Language: language,
			Content:  string(content),
		})
	}
	return files, nil
}

func jsonKind(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "empty value"
	}
	switch trimmed[0] {
	case '[':
		return "array"
	case '{':
		return "object"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
