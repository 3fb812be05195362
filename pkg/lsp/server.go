package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agenthive/hive/pkg/jsonrpc"
	"github.com/agenthive/hive/pkg/transport"
)

// Wire structures for the subset of LSP this bridge consumes.
type (
	// Position is a zero-based line/character position.
	Position struct {
		Line      int `json:"line"`
		Character int `json:"character"`
	}

	// Range is a start/end position pair.
	Range struct {
		Start Position `json:"start"`
		End   Position `json:"end"`
	}

	// Location is a range inside a document.
	Location struct {
		URI   string `json:"uri"`
		Range Range  `json:"range"`
	}

	// Diagnostic is one published problem report.
	Diagnostic struct {
		Range    Range           `json:"range"`
		Severity int             `json:"severity,omitempty"`
		Code     json.RawMessage `json:"code,omitempty"`
		Source   string          `json:"source,omitempty"`
		Message  string          `json:"message"`
	}

	// SymbolInformation is one workspace/symbol result.
	SymbolInformation struct {
		Name     string   `json:"name"`
		Kind     int      `json:"kind"`
		Location Location `json:"location"`
	}
)

// diagnosticsWait bounds how long Diagnostics polls for a server push.
const diagnosticsWait = 10 * time.Second

// Server is one live language server process.
type Server struct {
	languageID    string
	workspaceRoot string
	tr            *transport.Transport
	logger        *slog.Logger

	docsMu sync.Mutex
	docs   map[string]int // uri -> version

	diagMu sync.Mutex
	diags  map[string][]Diagnostic
}

// StartServer spawns and initialises a language server.
func StartServer(languageID, command string, args []string, workspaceRoot string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		languageID:    languageID,
		workspaceRoot: workspaceRoot,
		logger:        logger.With("language", languageID),
		docs:          make(map[string]int),
		diags:         make(map[string][]Diagnostic),
	}

	tr, err := transport.Start(transport.Options{
		Command:        command,
		Args:           args,
		Framing:        jsonrpc.FramingLSP,
		OnNotification: s.handleNotification,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s server: %w", languageID, err)
	}
	s.tr = tr

	// Language servers may ask for configuration or client capabilities;
	// a null reply keeps them going.
	go func() {
		for req := range tr.Requests() {
			_ = tr.Respond(*req.ID, nil)
		}
	}()

	if err := s.initialize(); err != nil {
		_ = tr.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) initialize() error {
	rootURI := PathToURI(s.workspaceRoot)
	valueSet := make([]int, 26)
	for i := range valueSet {
		valueSet[i] = i + 1
	}
	params := map[string]any{
		"processId": os.Getpid(),
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"publishDiagnostics": map[string]any{"relatedInformation": true},
				"hover":              map[string]any{"contentFormat": []string{"plaintext", "markdown"}},
				"references":         map[string]any{},
				"definition":         map[string]any{},
			},
			"workspace": map[string]any{
				"symbol":           map[string]any{"symbolKind": map[string]any{"valueSet": valueSet}},
				"workspaceFolders": true,
			},
		},
		"rootUri":  rootURI,
		"rootPath": s.workspaceRoot,
		"workspaceFolders": []map[string]any{
			{"uri": rootURI, "name": filepath.Base(s.workspaceRoot)},
		},
	}

	resp, err := s.tr.Call(context.Background(), "initialize", params, 30*time.Second)
	if err != nil {
		return fmt.Errorf("initialize %s server: %w", s.languageID, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize %s server: %s", s.languageID, resp.Error.Message)
	}
	return s.tr.Notify("initialized", map[string]any{})
}

// Alive reports whether the server process is still running.
func (s *Server) Alive() bool {
	select {
	case <-s.tr.Done():
		return false
	default:
		return true
	}
}

// Stop shuts the server down with the shutdown/exit sequence, then closes
// the process.
func (s *Server) Stop() {
	_, _ = s.tr.Call(context.Background(), "shutdown", nil, 5*time.Second)
	_ = s.tr.Notify("exit", nil)
	_ = s.tr.Close()
}

// EnsureOpen synchronises document content: didOpen with version 1 on first
// sight of a URI, didChange with a monotonically increasing version after.
func (s *Server) EnsureOpen(path, text string) error {
	uri := PathToURI(path)
	langID := LanguageForFile(path)
	if langID == "" {
		langID = s.languageID
	}

	version, isNew := s.bumpVersion(uri)
	if isNew {
		return s.tr.Notify("textDocument/didOpen", map[string]any{
			"textDocument": map[string]any{
				"uri":        uri,
				"languageId": langID,
				"version":    version,
				"text":       text,
			},
		})
	}
	return s.tr.Notify("textDocument/didChange", map[string]any{
		"textDocument":   map[string]any{"uri": uri, "version": version},
		"contentChanges": []map[string]any{{"text": text}},
	})
}

func (s *Server) bumpVersion(uri string) (version int, isNew bool) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	v, seen := s.docs[uri]
	v++
	s.docs[uri] = v
	return v, !seen
}

// Diagnostics opens or updates the document and waits for the server to
// push diagnostics, up to diagnosticsWait. Whatever has arrived by the
// deadline is returned, possibly nothing.
func (s *Server) Diagnostics(ctx context.Context, path, text string) ([]Diagnostic, error) {
	uri := PathToURI(path)
	if err := s.EnsureOpen(path, text); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(diagnosticsWait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if diags, ok := s.cachedDiagnostics(uri); ok {
			return diags, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.tr.Done():
			return nil, transport.ErrClosed
		}
	}
	diags, _ := s.cachedDiagnostics(uri)
	return diags, nil
}

func (s *Server) cachedDiagnostics(uri string) ([]Diagnostic, bool) {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	diags, ok := s.diags[uri]
	return diags, ok
}

// References finds all references to the symbol at the given position,
// including its declaration.
func (s *Server) References(ctx context.Context, path string, line, character int, text string) ([]Location, error) {
	if err := s.EnsureOpen(path, text); err != nil {
		return nil, err
	}
	resp, err := s.tr.Call(ctx, "textDocument/references", map[string]any{
		"textDocument": map[string]any{"uri": PathToURI(path)},
		"position":     Position{Line: line, Character: character},
		"context":      map[string]any{"includeDeclaration": true},
	}, 30*time.Second)
	if err != nil {
		return nil, err
	}
	var locations []Location
	if err := resp.UnmarshalResult(&locations); err != nil {
		return nil, fmt.Errorf("decode references: %w", err)
	}
	return locations, nil
}

// WorkspaceSymbols searches symbols across the workspace.
func (s *Server) WorkspaceSymbols(ctx context.Context, query string) ([]SymbolInformation, error) {
	resp, err := s.tr.Call(ctx, "workspace/symbol", map[string]any{"query": query}, 30*time.Second)
	if err != nil {
		return nil, err
	}
	var symbols []SymbolInformation
	if err := resp.UnmarshalResult(&symbols); err != nil {
		return nil, fmt.Errorf("decode workspace symbols: %w", err)
	}
	return symbols, nil
}

// Hover returns readable hover text at the given position, or "" when the
// server has nothing to say.
func (s *Server) Hover(ctx context.Context, path string, line, character int, text string) (string, error) {
	if err := s.EnsureOpen(path, text); err != nil {
		return "", err
	}
	resp, err := s.tr.Call(ctx, "textDocument/hover", map[string]any{
		"textDocument": map[string]any{"uri": PathToURI(path)},
		"position":     Position{Line: line, Character: character},
	}, 15*time.Second)
	if err != nil {
		return "", err
	}
	var result struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := resp.UnmarshalResult(&result); err != nil || len(result.Contents) == 0 {
		return "", nil
	}
	return extractHoverText(result.Contents), nil
}

func (s *Server) handleNotification(msg *jsonrpc.Message) {
	switch msg.Method {
	case "textDocument/publishDiagnostics":
		var params struct {
			URI         string       `json:"uri"`
			Diagnostics []Diagnostic `json:"diagnostics"`
		}
		if err := msg.UnmarshalParams(&params); err != nil {
			s.logger.Warn("Bad publishDiagnostics payload", "error", err)
			return
		}
		s.diagMu.Lock()
		s.diags[params.URI] = params.Diagnostics
		s.diagMu.Unlock()
	case "window/logMessage", "window/showMessage":
		// Ignored.
	}
}

// extractHoverText flattens the three shapes LSP hover contents can take:
// a plain string, a {value} object, or a list of either.
func extractHoverText(contents json.RawMessage) string {
	var str string
	if err := json.Unmarshal(contents, &str); err == nil {
		return str
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(contents, &obj); err == nil && obj.Value != "" {
		return obj.Value
	}
	var items []json.RawMessage
	if err := json.Unmarshal(contents, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if text := extractHoverText(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
