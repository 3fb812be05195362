package lsp

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/agenthive/hive/pkg/config"
)

// SymbolPosition is a resolved symbol location in workspace coordinates.
type SymbolPosition struct {
	Path      string
	Line      int
	Character int
}

// Bridge manages one language server per language id, started lazily.
// Every lookup degrades to nil rather than failing when a server cannot
// be provided.
type Bridge struct {
	workspaceRoot string
	overrides     map[string]config.LSPServerConfig
	logger        *slog.Logger

	mu      sync.Mutex
	servers map[string]*Server
}

// NewBridge creates a bridge rooted at workspaceRoot. overrides come from
// the [lsp] section of the runtime configuration and take precedence over
// the built-in server table.
func NewBridge(workspaceRoot string, overrides map[string]config.LSPServerConfig, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		workspaceRoot: workspaceRoot,
		overrides:     overrides,
		logger:        logger.With("component", "lsp_bridge"),
		servers:       make(map[string]*Server),
	}
}

// ServerFor returns a running server for the language id, starting one if
// needed. Returns nil when no command is configured, the command is not on
// PATH, or startup fails.
func (b *Bridge) ServerFor(languageID string) *Server {
	b.mu.Lock()
	if server, ok := b.servers[languageID]; ok {
		if server.Alive() {
			b.mu.Unlock()
			return server
		}
		delete(b.servers, languageID)
	}
	b.mu.Unlock()

	command, args := b.resolveCommand(languageID)
	if command == "" {
		return nil
	}
	if _, err := exec.LookPath(command); err != nil {
		b.logger.Debug("Language server not on PATH", "language", languageID, "command", command)
		return nil
	}

	server, err := StartServer(languageID, command, args, b.workspaceRoot, b.logger)
	if err != nil {
		b.logger.Warn("Language server failed to start", "language", languageID, "error", err)
		return nil
	}

	b.mu.Lock()
	b.servers[languageID] = server
	b.mu.Unlock()
	return server
}

// ServerForFile returns a server chosen by the file's extension, or nil.
func (b *Bridge) ServerForFile(path string) *Server {
	languageID := LanguageForFile(path)
	if languageID == "" {
		return nil
	}
	return b.ServerFor(languageID)
}

// FindSymbolPosition resolves a symbol name to a position, preferring an
// exact workspace/symbol match, then the first partial match, then a plain
// text search of the given file.
func (b *Bridge) FindSymbolPosition(ctx context.Context, name, filePath, languageID string) *SymbolPosition {
	if languageID == "" {
		languageID = LanguageForFile(filePath)
	}
	if languageID == "" {
		return textSearchPosition(name, filePath)
	}

	if server := b.ServerFor(languageID); server != nil {
		symbols, err := server.WorkspaceSymbols(ctx, name)
		if err == nil {
			for _, sym := range symbols {
				if sym.Name == name {
					return symbolPosition(sym)
				}
			}
			if len(symbols) > 0 {
				return symbolPosition(symbols[0])
			}
		}
	}

	return textSearchPosition(name, filePath)
}

// WorkspaceLanguages walks the workspace and reports which recognised
// languages are present, skipping hidden and dependency directories.
func (b *Bridge) WorkspaceLanguages() []string {
	seen := make(map[string]bool)
	var languages []string

	_ = filepath.WalkDir(b.workspaceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != b.workspaceRoot && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if lang := LanguageForFile(path); lang != "" && !seen[lang] {
			seen[lang] = true
			languages = append(languages, lang)
		}
		if len(seen) >= 10 {
			return filepath.SkipAll
		}
		return nil
	})

	return languages
}

// SymbolSearch runs workspace/symbol across the workspace's languages and
// formats the hits as "path:line: [Kind] name". The first language that
// yields results wins; output is capped at 100 entries. The bool reports
// whether any server produced results.
func (b *Bridge) SymbolSearch(ctx context.Context, query string) (string, bool) {
	for _, lang := range b.WorkspaceLanguages() {
		server := b.ServerFor(lang)
		if server == nil {
			continue
		}
		symbols, err := server.WorkspaceSymbols(ctx, query)
		if err != nil || len(symbols) == 0 {
			continue
		}
		if len(symbols) > 100 {
			symbols = symbols[:100]
		}
		lines := make([]string, 0, len(symbols))
		for _, sym := range symbols {
			line := fmt.Sprintf("%s:%d: [%s] %s",
				URIToPath(sym.Location.URI),
				sym.Location.Range.Start.Line+1,
				SymbolKindName(sym.Kind),
				sym.Name)
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n"), true
	}
	return "", false
}

// FileDiagnostics opens the file on its language server and formats the
// pushed diagnostics, one per line. The bool reports whether a server
// produced a diagnostics run for the file; an empty string with true means
// the server found nothing wrong.
func (b *Bridge) FileDiagnostics(ctx context.Context, path string) (string, bool) {
	if !RecognisedExtensions(path) {
		return "", false
	}
	server := b.ServerForFile(path)
	if server == nil {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	diags, err := server.Diagnostics(ctx, path, string(data))
	if err != nil {
		b.logger.Warn("Diagnostics lookup failed", "path", path, "error", err)
		return "", false
	}
	return formatDiagnostics(path, diags), true
}

// SymbolReferences resolves the symbol to a position and lists every
// reference location, headed by the definition signature when the server
// offers hover text. The bool reports whether a server answered.
func (b *Bridge) SymbolReferences(ctx context.Context, name, filePath string) (string, bool) {
	pos := b.FindSymbolPosition(ctx, name, filePath, "")
	if pos == nil {
		return "", false
	}
	server := b.ServerForFile(pos.Path)
	if server == nil {
		return "", false
	}
	data, err := os.ReadFile(pos.Path)
	if err != nil {
		return "", false
	}
	text := string(data)

	locations, err := server.References(ctx, pos.Path, pos.Line, pos.Character, text)
	if err != nil {
		b.logger.Warn("References lookup failed", "symbol", name, "error", err)
		return "", false
	}

	var lines []string
	if hover, err := server.Hover(ctx, pos.Path, pos.Line, pos.Character, text); err == nil && hover != "" {
		lines = append(lines, "Definition: "+firstLine(hover))
	}
	for _, loc := range locations {
		lines = append(lines, fmt.Sprintf("%s:%d", URIToPath(loc.URI), loc.Range.Start.Line+1))
	}
	return strings.Join(lines, "\n"), true
}

// StopAll shuts down every running server.
func (b *Bridge) StopAll() {
	b.mu.Lock()
	servers := make([]*Server, 0, len(b.servers))
	for _, server := range b.servers {
		servers = append(servers, server)
	}
	b.servers = make(map[string]*Server)
	b.mu.Unlock()

	for _, server := range servers {
		server.Stop()
	}
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"vendor":       true,
}

func (b *Bridge) resolveCommand(languageID string) (string, []string) {
	if override, ok := b.overrides[languageID]; ok && override.Command != "" {
		return override.Command, override.Args
	}
	if def, ok := defaultServers[languageID]; ok {
		return def.Command, def.Args
	}
	return "", nil
}

func symbolPosition(sym SymbolInformation) *SymbolPosition {
	return &SymbolPosition{
		Path:      URIToPath(sym.Location.URI),
		Line:      sym.Location.Range.Start.Line,
		Character: sym.Location.Range.Start.Character,
	}
}

var severityNames = map[int]string{
	1: "Error", 2: "Warning", 3: "Information", 4: "Hint",
}

// formatDiagnostics renders diagnostics as "path:line:col [Severity] message".
func formatDiagnostics(path string, diags []Diagnostic) string {
	lines := make([]string, 0, len(diags))
	for _, diag := range diags {
		severity := severityNames[diag.Severity]
		if severity == "" {
			severity = "Error"
		}
		lines = append(lines, fmt.Sprintf("%s:%d:%d [%s] %s",
			path,
			diag.Range.Start.Line+1,
			diag.Range.Start.Character+1,
			severity,
			diag.Message))
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

var definitionPattern = `\b(def|class|function|func|fn|const|let|var|type|interface|struct|enum)\s+`

// textSearchPosition scans the file for a definition-looking line holding
// the name, falling back to any plain occurrence.
func textSearchPosition(name, filePath string) *SymbolPosition {
	file, err := os.Open(filePath)
	if err != nil {
		return nil
	}
	defer file.Close()

	defRe, err := regexp.Compile(definitionPattern + regexp.QuoteMeta(name) + `\b`)
	if err != nil {
		return nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineno := 0; scanner.Scan(); lineno++ {
		line := scanner.Text()
		if defRe.MatchString(line) || strings.Contains(line, name) {
			return &SymbolPosition{Path: filePath, Line: lineno, Character: max(strings.Index(line, name), 0)}
		}
	}
	return nil
}
