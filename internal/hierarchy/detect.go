package hierarchy

import (
	"path/filepath"
	"strings"

	"github.com/src-d/enry/v2"
)

var extLanguages = map[string]string{
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
	".mts": "typescript",
	".cts": "typescript",
	".py":  "python",
	".pyi": "python",
	".pyw": "python",
}

// DetectLanguage resolves a language tag for a file. The extension map
// handles the common cases; enry classifies everything else by content.
// Returns "" when the language cannot be determined.
func DetectLanguage(path string, content []byte) string {
	if lang, ok := extLanguages[filepath.Ext(path)]; ok {
		return lang
	}
	if lang := enry.GetLanguage(filepath.Base(path), content); lang != "" {
		return NormalizeLanguage(lang)
	}
	return ""
}

// NormalizeLanguage maps language names from registries like enry onto the
// lower-case tags the parser understands. Unknown names pass through
// lower-cased so the parser can reject them uniformly.
func NormalizeLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "python":
		return "python"
	case "javascript", "jsx":
		return "javascript"
	case "typescript", "tsx":
		return "typescript"
	default:
		return strings.ToLower(lang)
	}
}
