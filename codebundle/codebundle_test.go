package codebundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		files []interfaces.SourceFile
	}{
		{
			name:  "single file",
			files: []interfaces.SourceFile{{Filename: "agent.py", Language: "python", Content: "print(1)"}},
		},
		{
			name: "multiple files with quoting",
			files: []interfaces.SourceFile{
				{Filename: "agent.py", Language: "python", Content: "x = \"quoted\"\nprint(x)\n"},
				{Filename: "config.json", Language: "json", Content: `{"a": [1, 2]}`},
				{Filename: "empty.txt", Language: "text", Content: ""},
			},
		},
		{
			name:  "unicode",
			files: []interfaces.SourceFile{{Filename: "agent.py", Language: "python", Content: "print('héllo ✓')\t\\n"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := NewUploadBody(tc.files)
			require.NoError(t, err)
			require.NoError(t, ValidateUploadBody(body))

			// The outer value is an object whose code field is a string.
			var wrapper map[string]any
			require.NoError(t, json.Unmarshal(body, &wrapper))
			code, ok := wrapper["code"].(string)
			require.True(t, ok, "code must be a string, got %T", wrapper["code"])

			// Parsing code once yields the original array.
			var inner []map[string]string
			require.NoError(t, json.Unmarshal([]byte(code), &inner))
			require.Len(t, inner, len(tc.files))
			for i, f := range tc.files {
				assert.Equal(t, f.Language, inner[i]["language"])
				assert.Equal(t, f.Filename, inner[i]["name"])
				assert.Equal(t, f.Content, inner[i]["value"])
			}

			decoded, err := DecodeUploadBody(body)
			require.NoError(t, err)
			assert.Equal(t, tc.files, decoded)
		})
	}
}

func TestEncodeRejectsInvalidBundles(t *testing.T) {
	testCases := []struct {
		name  string
		files []interfaces.SourceFile
	}{
		{name: "empty", files: nil},
		{name: "missing filename", files: []interfaces.SourceFile{{Language: "python"}}},
		{name: "missing language", files: []interfaces.SourceFile{{Filename: "agent.py"}}},
		{
			name: "duplicate filename",
			files: []interfaces.SourceFile{
				{Filename: "agent.py", Language: "python"},
				{Filename: "agent.py", Language: "python"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.files)
			require.ErrorIs(t, err, ErrInvalidBundle)

			_, err = NewUploadBody(tc.files)
			require.ErrorIs(t, err, ErrInvalidBundle)
		})
	}
}

func TestValidateUploadBodyRejectsNestedCode(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "nested array", body: `{"code": [{"language": "python", "name": "agent.py", "value": "print(1)"}]}`},
		{name: "nested object", body: `{"code": {"name": "agent.py"}}`},
		{name: "missing code", body: `{"files": "[]"}`},
		{name: "string that is not an array", body: `{"code": "print(1)"}`},
		{name: "not an object", body: `[1, 2]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, ValidateUploadBody([]byte(tc.body)), ErrCodeNotString)
		})
	}
}

func TestLanguageForFilename(t *testing.T) {
	assert.Equal(t, "python", LanguageForFilename("agent.py"))
	assert.Equal(t, "typescript", LanguageForFilename("dir/index.TS"))
	assert.Equal(t, "", LanguageForFilename("Makefile"))
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	entry := filepath.Join(dir, "agent.py")
	extra := filepath.Join(dir, "NOTES")
	require.NoError(t, os.WriteFile(entry, []byte("print(1)"), 0o600))
	require.NoError(t, os.WriteFile(extra, []byte("notes"), 0o600))

	files, err := LoadFiles([]string{entry, extra})
	require.NoError(t, err)
	require.Equal(t, []interfaces.SourceFile{
		{Filename: "agent.py", Language: "python", Content: "print(1)"},
		{Filename: "NOTES", Language: "text", Content: "notes"},
	}, files)

	_, err = LoadFiles([]string{filepath.Join(dir, "missing.py")})
	require.Error(t, err)
}
