// Package lsp bridges to real language servers for semantic code
// intelligence: diagnostics, references, workspace symbols, and hover.
// Servers are started lazily per language and every operation degrades to
// an empty result when no server is available.
package lsp

import (
	"path/filepath"
	"strings"
)

// extToLang maps file extensions to LSP language ids.
var extToLang = map[string]string{
	".py": "python", ".pyi": "python",
	".js": "javascript", ".jsx": "javascriptreact",
	".ts": "typescript", ".tsx": "typescriptreact",
	".go":   "go",
	".rs":   "rust",
	".java": "java",
	".c":    "c", ".h": "c",
	".cpp": "cpp", ".cxx": "cpp", ".cc": "cpp", ".hpp": "cpp",
	".cs": "csharp",
	".rb": "ruby",
}

// defaultServer is a built-in language server launch command.
type defaultServer struct {
	Command string
	Args    []string
}

// defaultServers maps language ids to built-in server commands. User
// configuration overrides these per language.
var defaultServers = map[string]defaultServer{
	"python":          {"pyright-langserver", []string{"--stdio"}},
	"typescript":      {"typescript-language-server", []string{"--stdio"}},
	"javascript":      {"typescript-language-server", []string{"--stdio"}},
	"typescriptreact": {"typescript-language-server", []string{"--stdio"}},
	"javascriptreact": {"typescript-language-server", []string{"--stdio"}},
	"go":              {"gopls", []string{"serve"}},
	"rust":            {"rust-analyzer", nil},
	"java":            {"jdtls", nil},
}

// symbolKindNames maps the LSP SymbolKind enum to human labels.
var symbolKindNames = map[int]string{
	1: "File", 2: "Module", 3: "Namespace", 4: "Package", 5: "Class",
	6: "Method", 7: "Property", 8: "Field", 9: "Constructor", 10: "Enum",
	11: "Interface", 12: "Function", 13: "Variable", 14: "Constant",
	15: "String", 16: "Number", 17: "Boolean", 18: "Array", 19: "Object",
	20: "Key", 21: "Null", 22: "EnumMember", 23: "Struct", 24: "Event",
	25: "Operator", 26: "TypeParameter",
}

// LanguageForFile returns the LSP language id for a file path, or "" when
// the extension is not recognised.
func LanguageForFile(path string) string {
	return extToLang[strings.ToLower(filepath.Ext(path))]
}

// SymbolKindName returns the human label for an LSP SymbolKind value.
func SymbolKindName(kind int) string {
	if name, ok := symbolKindNames[kind]; ok {
		return name
	}
	return "Symbol"
}

// RecognisedExtensions reports whether any known language matches the path.
func RecognisedExtensions(path string) bool {
	return LanguageForFile(path) != ""
}
