// Package upstream drives the long-lived coding-assistant language server:
// LSP handshake and auth, conversation lifecycle with streamed progress,
// server-initiated tool-call dispatch, and document synchronisation.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthive/hive/pkg/config"
	"github.com/agenthive/hive/pkg/jsonrpc"
	"github.com/agenthive/hive/pkg/lsp"
	"github.com/agenthive/hive/pkg/mcp"
	"github.com/agenthive/hive/pkg/tools"
	"github.com/agenthive/hive/pkg/transport"
	"github.com/agenthive/hive/pkg/version"
)

// Turn timeouts. Agent turns run tools and need far more headroom.
const (
	chatTurnTimeout  = 60 * time.Second
	agentTurnTimeout = 300 * time.Second
)

const (
	editorName          = "JetBrains-IC"
	editorVersion       = "2025.2"
	editorPluginName    = "copilot-intellij"
	editorPluginVersion = "1.420.0"
	defaultGithubAppID  = "Iv1.b507a08c87ecfe98"
)

// Options configures one upstream session.
type Options struct {
	WorkspaceRoot string
	Binary        string // upstream language-server binary
	AppsJSON      string // OAuth token store path
	Model         string // default model hint for turns

	AgentMode  bool
	Tools      *tools.Registry
	ToolSelect config.ToolSelection

	Proxy      *config.ProxyConfig
	MCPServers map[string]config.MCPServerConfig
	LSPServers map[string]config.LSPServerConfig

	// OnStartup receives human-readable startup phase messages.
	OnStartup func(string)

	Logger *slog.Logger
}

// Client is a live upstream session.
type Client struct {
	tr     *transport.Transport
	logger *slog.Logger

	workspaceRoot string
	model         string
	auth          Auth

	registry   *tools.Registry
	toolSelect config.ToolSelection
	mcpBridge  *mcp.Bridge
	lspBridge  *lsp.Bridge

	docMu       sync.Mutex
	docVersions map[string]int

	progressMu sync.Mutex
	progress   map[string]chan progressUpdate

	flagsMu      sync.Mutex
	featureFlags map[string]any
	flagsReady   chan struct{}
	flagsOnce    sync.Once

	agentPrepared bool
}

// TurnOptions adjusts one conversation turn.
type TurnOptions struct {
	Model      string
	AgentMode  bool
	OnProgress ProgressFunc
}

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	ConversationID string
	Reply          string
	AgentRounds    []AgentRound
}

// Start spawns the upstream server and runs the full startup sequence:
// handshake, auth, proxy and MCP configuration, LSP bridge, and (in agent
// mode) tool registration plus workspace document opening.
func Start(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emit := func(msg string) {
		if opts.OnStartup != nil {
			opts.OnStartup(msg)
		}
	}

	auth, err := ReadAuth(opts.AppsJSON)
	if err != nil {
		return nil, err
	}

	workspaceRoot, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	c := &Client{
		logger:        logger.With("component", "upstream"),
		workspaceRoot: workspaceRoot,
		model:         opts.Model,
		auth:          auth,
		registry:      opts.Tools,
		toolSelect:    opts.ToolSelect,
		docVersions:   make(map[string]int),
		progress:      make(map[string]chan progressUpdate),
		featureFlags:  make(map[string]any),
		flagsReady:    make(chan struct{}),
	}
	if c.registry == nil {
		c.registry = tools.DefaultRegistry()
	}
	if c.toolSelect == nil {
		c.toolSelect = config.DefaultToolSelection()
	}

	env := map[string]string{}
	if opts.Proxy != nil && opts.Proxy.URL != "" {
		env["HTTP_PROXY"] = opts.Proxy.URL
		env["HTTPS_PROXY"] = opts.Proxy.URL
	}

	emit("Starting upstream server...")
	tr, err := transport.Start(transport.Options{
		Command:        opts.Binary,
		Args:           []string{"--stdio"},
		Env:            env,
		Framing:        jsonrpc.FramingLSP,
		OnNotification: c.handleNotification,
		Logger:         c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.tr = tr
	go c.serveRequests()

	if err := c.initialize(ctx, opts.Proxy); err != nil {
		tr.Close()
		return nil, err
	}

	emit("Authenticating...")
	if err := c.setEditorInfo(ctx, opts.Proxy); err != nil {
		tr.Close()
		return nil, err
	}
	if opts.Proxy != nil && opts.Proxy.URL != "" {
		if err := c.configureProxy(*opts.Proxy); err != nil {
			tr.Close()
			return nil, err
		}
	}
	if err := c.checkStatus(ctx); err != nil {
		tr.Close()
		return nil, err
	}

	if len(opts.MCPServers) > 0 {
		emit("Starting MCP servers...")
		c.configureMCPServers(ctx, opts.MCPServers, emit)
	}

	c.lspBridge = lsp.NewBridge(workspaceRoot, opts.LSPServers, c.logger)

	if opts.AgentMode {
		if err := c.PrepareAgentMode(ctx, emit); err != nil {
			c.Stop()
			return nil, err
		}
	}
	emit("Ready")
	return c, nil
}

// WorkspaceRoot returns the session's absolute workspace path.
func (c *Client) WorkspaceRoot() string { return c.workspaceRoot }

// AgentPrepared reports whether agent-mode preparation has run.
func (c *Client) AgentPrepared() bool { return c.agentPrepared }

// PrepareAgentMode registers the client tool schemas and opens workspace
// documents. Idempotent; pool escalation calls it on a cached session.
func (c *Client) PrepareAgentMode(ctx context.Context, emit func(string)) error {
	if c.agentPrepared {
		return nil
	}
	if emit == nil {
		emit = func(string) {}
	}
	emit("Registering tools...")
	if err := c.RegisterTools(ctx); err != nil {
		return err
	}
	emit("Opening workspace files...")
	c.openWorkspaceFiles()
	c.agentPrepared = true
	return nil
}

func (c *Client) initialize(ctx context.Context, proxy *config.ProxyConfig) error {
	rootURI := lsp.PathToURI(c.workspaceRoot)
	networkProxy := map[string]any{}
	if proxy != nil && proxy.URL != "" {
		networkProxy["url"] = proxy.URL
	}
	appID := c.auth.AppID
	if appID == "" {
		appID = defaultGithubAppID
	}

	resp, err := c.tr.Call(ctx, "initialize", map[string]any{
		"processId": os.Getpid(),
		"capabilities": map[string]any{
			"textDocumentSync": map[string]any{
				"openClose": true,
				"change":    1,
				"save":      true,
			},
			"workspace": map[string]any{
				"workspaceFolders": true,
				"didChangeWatchedFiles": map[string]any{
					"dynamicRegistration": true,
				},
				"fileOperations": map[string]any{
					"didCreate": true,
					"didRename": true,
					"didDelete": true,
				},
			},
		},
		"rootUri": rootURI,
		"workspaceFolders": []map[string]any{
			{"uri": rootURI, "name": filepath.Base(c.workspaceRoot)},
		},
		"clientInfo": map[string]any{"name": version.AppName, "version": version.GitCommit},
		"initializationOptions": map[string]any{
			"editorInfo":          map[string]any{"name": editorName, "version": editorVersion},
			"editorPluginInfo":    map[string]any{"name": editorPluginName, "version": editorPluginVersion},
			"editorConfiguration": map[string]any{},
			"networkProxy":        networkProxy,
			"githubAppId":         appID,
		},
	}, 30*time.Second)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	_ = resp.UnmarshalResult(&result)
	c.logger.Info("Upstream server initialised",
		"server", result.ServerInfo.Name, "version", result.ServerInfo.Version)

	return c.tr.Notify("initialized", map[string]any{})
}

func (c *Client) setEditorInfo(ctx context.Context, proxy *config.ProxyConfig) error {
	networkProxy := map[string]any{}
	if proxy != nil && proxy.URL != "" {
		networkProxy["url"] = proxy.URL
	}
	_, err := c.tr.Call(ctx, "setEditorInfo", map[string]any{
		"editorInfo":          map[string]any{"name": editorName, "version": editorVersion},
		"editorPluginInfo":    map[string]any{"name": editorPluginName, "version": editorPluginVersion},
		"editorConfiguration": map[string]any{},
		"networkProxy":        networkProxy,
	}, 30*time.Second)
	if err != nil {
		return fmt.Errorf("setEditorInfo: %w", err)
	}
	return nil
}

func (c *Client) configureProxy(proxy config.ProxyConfig) error {
	settings, err := BuildHTTPSettings(proxy)
	if err != nil {
		return err
	}
	if err := c.tr.Notify("workspace/didChangeConfiguration", map[string]any{
		"settings": map[string]any{"http": settings},
	}); err != nil {
		return err
	}
	c.logger.Info("Proxy configured", "proxy", settings["proxy"])
	return nil
}

func (c *Client) checkStatus(ctx context.Context) error {
	resp, err := c.tr.Call(ctx, "checkStatus", map[string]any{}, 30*time.Second)
	if err != nil {
		return fmt.Errorf("checkStatus: %w", err)
	}
	var result struct {
		Status string `json:"status"`
		User   string `json:"user"`
	}
	_ = resp.UnmarshalResult(&result)
	c.logger.Info("Upstream auth status", "status", result.Status, "user", result.User)
	return nil
}

// configureMCPServers routes MCP server configs. URL-based servers always
// run client-side (the upstream server only drives stdio servers); stdio
// servers go server-side when the org feature flag allows, otherwise they
// too run on the client bridge.
func (c *Client) configureMCPServers(ctx context.Context, servers map[string]config.MCPServerConfig, emit func(string)) {
	expanded := make(map[string]config.MCPServerConfig, len(servers))
	for name, cfg := range servers {
		args := make([]string, len(cfg.Args))
		for i, a := range cfg.Args {
			args[i] = strings.ReplaceAll(a, "{workspace}", c.workspaceRoot)
		}
		cfg.Args = args
		cfg.URL = strings.ReplaceAll(cfg.URL, "{workspace}", c.workspaceRoot)
		expanded[name] = cfg
	}

	clientSide := make(map[string]config.MCPServerConfig)
	serverSide := make(map[string]config.MCPServerConfig)
	for name, cfg := range expanded {
		if cfg.URL != "" {
			clientSide[name] = cfg
		} else {
			serverSide[name] = cfg
		}
	}

	if len(serverSide) > 0 {
		if c.waitServerMCPEnabled(2 * time.Second) {
			raw, _ := json.Marshal(serverSide)
			_ = c.tr.Notify("workspace/didChangeConfiguration", map[string]any{
				"settings": map[string]any{
					"github": map[string]any{
						"copilot": map[string]any{"mcp": string(raw)},
					},
				},
			})
			c.logger.Info("MCP servers configured server-side", "count", len(serverSide))
		} else {
			for name, cfg := range serverSide {
				clientSide[name] = cfg
			}
		}
	}

	if len(clientSide) > 0 {
		bridge := mcp.NewBridge(c.logger)
		bridge.AddServers(clientSide)
		bridge.StartAll(ctx, emit)
		c.mcpBridge = bridge
	}
}

// waitServerMCPEnabled waits briefly for the feature-flags notification and
// reports whether server-side MCP is allowed.
func (c *Client) waitServerMCPEnabled(wait time.Duration) bool {
	select {
	case <-c.flagsReady:
	case <-time.After(wait):
		return false
	case <-c.tr.Done():
		return false
	}
	c.flagsMu.Lock()
	defer c.flagsMu.Unlock()
	enabled, _ := c.featureFlags["mcp"].(bool)
	return enabled
}

// RegisterTools sends the union of local tool schemas and client-side MCP
// bridge schemas via conversation/registerTools.
func (c *Client) RegisterTools(ctx context.Context) error {
	all := make([]any, 0)
	for _, schema := range c.registry.Schemas(c.toolSelect) {
		all = append(all, schema)
	}
	mcpCount := 0
	if c.mcpBridge != nil {
		for _, schema := range c.mcpBridge.ToolSchemas() {
			all = append(all, schema)
			mcpCount++
		}
	}

	resp, err := c.tr.Call(ctx, "conversation/registerTools", map[string]any{"tools": all}, 30*time.Second)
	if err != nil {
		return fmt.Errorf("registerTools: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("registerTools: %s", resp.Error.Message)
	}
	c.logger.Info("Registered client tools", "total", len(all), "mcp", mcpCount)
	return nil
}

// CreateConversation opens a conversation with an initial turn and collects
// the streamed reply.
func (c *Client) CreateConversation(ctx context.Context, message string, opts TurnOptions) (*TurnResult, error) {
	token := newWorkDoneToken()
	params := map[string]any{
		"workDoneToken": token,
		"turns":         []map[string]any{{"request": message}},
		"capabilities":  map[string]any{"allSkills": opts.AgentMode},
		"source":        "panel",
	}
	c.applyTurnOptions(params, opts)

	ch := c.registerToken(token)
	defer c.unregisterToken(token)

	resp, err := c.tr.Call(ctx, "conversation/create", params, agentTurnTimeout)
	if err != nil {
		return nil, fmt.Errorf("conversation/create: %w", err)
	}
	conversationID, modelName := parseCreateResult(resp)
	c.logger.Debug("Conversation created", "conversation", conversationID, "model", modelName)

	collected, err := c.collectReply(ch, turnTimeout(opts.AgentMode), opts.OnProgress)
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		ConversationID: conversationID,
		Reply:          collected.Text,
		AgentRounds:    collected.AgentRounds,
	}, nil
}

// ConversationTurn sends a follow-up message in an existing conversation.
func (c *Client) ConversationTurn(ctx context.Context, conversationID, message string, opts TurnOptions) (*TurnResult, error) {
	token := newWorkDoneToken()
	params := map[string]any{
		"workDoneToken":  token,
		"conversationId": conversationID,
		"message":        message,
		"source":         "panel",
	}
	c.applyTurnOptions(params, opts)

	ch := c.registerToken(token)
	defer c.unregisterToken(token)

	if _, err := c.tr.Call(ctx, "conversation/turn", params, agentTurnTimeout); err != nil {
		return nil, fmt.Errorf("conversation/turn: %w", err)
	}
	collected, err := c.collectReply(ch, turnTimeout(opts.AgentMode), opts.OnProgress)
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		ConversationID: conversationID,
		Reply:          collected.Text,
		AgentRounds:    collected.AgentRounds,
	}, nil
}

// DestroyConversation closes a conversation on the server.
func (c *Client) DestroyConversation(ctx context.Context, conversationID string) error {
	_, err := c.tr.Call(ctx, "conversation/destroy", map[string]any{
		"conversationId": conversationID,
	}, 30*time.Second)
	return err
}

// Models lists the models the upstream account can use.
func (c *Client) Models(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.tr.Call(ctx, "copilot/models", map[string]any{}, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// MCPGetTools queries the server-side MCP tool inventory.
func (c *Client) MCPGetTools(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.tr.Call(ctx, "mcp/getTools", map[string]any{}, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// MCPServerAction starts, stops, or restarts a server-side MCP server.
func (c *Client) MCPServerAction(ctx context.Context, serverName, action string) error {
	_, err := c.tr.Call(ctx, "mcp/serverAction", map[string]any{
		"serverName": serverName,
		"action":     action,
	}, 30*time.Second)
	return err
}

func (c *Client) applyTurnOptions(params map[string]any, opts TurnOptions) {
	if opts.AgentMode {
		params["chatMode"] = "Agent"
		params["needToolCallConfirmation"] = true
	}
	model := opts.Model
	if model == "" {
		model = c.model
	}
	if model != "" {
		params["model"] = model
	}
	rootURI := lsp.PathToURI(c.workspaceRoot)
	params["workspaceFolder"] = rootURI
	params["workspaceFolders"] = []map[string]any{
		{"uri": rootURI, "name": filepath.Base(c.workspaceRoot)},
	}
}

func parseCreateResult(resp *jsonrpc.Message) (conversationID, modelName string) {
	var asObject struct {
		ConversationID string `json:"conversationId"`
		ModelName      string `json:"modelName"`
	}
	if err := resp.UnmarshalResult(&asObject); err == nil {
		return asObject.ConversationID, asObject.ModelName
	}
	// Some server versions wrap the result in a one-element array.
	var asList []struct {
		ConversationID string `json:"conversationId"`
		ModelName      string `json:"modelName"`
	}
	if err := resp.UnmarshalResult(&asList); err == nil && len(asList) > 0 {
		return asList[0].ConversationID, asList[0].ModelName
	}
	return "", ""
}

func turnTimeout(agentMode bool) time.Duration {
	if agentMode {
		return agentTurnTimeout
	}
	return chatTurnTimeout
}

func newWorkDoneToken() string {
	return "hive-chat-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// handleNotification runs on the transport reader goroutine. It must not
// block and must not write to the transport.
func (c *Client) handleNotification(msg *jsonrpc.Message) {
	switch msg.Method {
	case "$/progress":
		var params struct {
			Token string          `json:"token"`
			Value json.RawMessage `json:"value"`
		}
		if err := msg.UnmarshalParams(&params); err != nil || params.Token == "" {
			return
		}
		var update progressUpdate
		if err := json.Unmarshal(params.Value, &update); err != nil {
			return
		}
		c.routeProgress(params.Token, update)

	case "featureFlagsNotification":
		var flags map[string]any
		if err := msg.UnmarshalParams(&flags); err == nil {
			c.flagsMu.Lock()
			c.featureFlags = flags
			c.flagsMu.Unlock()
		}
		c.flagsOnce.Do(func() { close(c.flagsReady) })

	case "copilot/mcpTools":
		var params struct {
			Servers []struct {
				Name   string `json:"name"`
				Status string `json:"status"`
				Tools  []any  `json:"tools"`
			} `json:"servers"`
		}
		if err := msg.UnmarshalParams(&params); err == nil {
			for _, srv := range params.Servers {
				c.logger.Info("Server-side MCP server",
					"name", srv.Name, "status", srv.Status, "tools", len(srv.Tools))
			}
		}

	default:
		c.logger.Debug("Upstream notification", "method", msg.Method)
	}
}

// OpenDocument notifies the server of an opened document at version 1.
func (c *Client) OpenDocument(uri, languageID, text string) error {
	c.docMu.Lock()
	c.docVersions[uri] = 1
	c.docMu.Unlock()
	return c.tr.Notify("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": languageID,
			"version":    1,
			"text":       text,
		},
	})
}

// SyncFile pushes edited file content to the server: didChange with the
// next version for known documents, didOpen for new ones.
func (c *Client) SyncFile(path, content string) error {
	uri := lsp.PathToURI(path)

	c.docMu.Lock()
	version, known := c.docVersions[uri]
	if known {
		version++
		c.docVersions[uri] = version
	}
	c.docMu.Unlock()

	if known {
		return c.tr.Notify("textDocument/didChange", map[string]any{
			"textDocument":   map[string]any{"uri": uri, "version": version},
			"contentChanges": []map[string]any{{"text": content}},
		})
	}
	return c.OpenDocument(uri, syncLanguageID(path), content)
}

// openWorkspaceFiles walks the workspace and opens every recognised file
// as a document so agent turns see current content.
func (c *Client) openWorkspaceFiles() {
	count := 0
	_ = filepath.WalkDir(c.workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, ok := syncLangs[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if err := c.OpenDocument(lsp.PathToURI(path), syncLanguageID(path), string(data)); err == nil {
			count++
		}
		return nil
	})
	if count > 0 {
		c.logger.Info("Opened workspace files", "count", count)
	}
}

// syncLangs maps extensions to language ids for document sync. Broader
// than the LSP bridge table: config and markup files matter to the model
// even without a language server.
var syncLangs = map[string]string{
	".py": "python", ".js": "javascript", ".ts": "typescript",
	".java": "java", ".rb": "ruby", ".go": "go", ".rs": "rust",
	".c": "c", ".cpp": "cpp", ".h": "c", ".cs": "csharp",
	".html": "html", ".css": "css", ".json": "json", ".md": "markdown",
	".sh": "shellscript", ".yaml": "yaml", ".yml": "yaml",
	".xml": "xml", ".sql": "sql", ".txt": "plaintext",
}

func syncLanguageID(path string) string {
	if lang, ok := syncLangs[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "plaintext"
}

// Stop shuts down the LSP bridge, the MCP bridge, and the upstream server.
func (c *Client) Stop() {
	if c.lspBridge != nil {
		c.lspBridge.StopAll()
	}
	if c.mcpBridge != nil {
		c.mcpBridge.StopAll()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = c.tr.Call(ctx, "shutdown", map[string]any{}, 5*time.Second)
	_ = c.tr.Notify("exit", map[string]any{})
	_ = c.tr.Close()
	c.logger.Info("Upstream server stopped")
}
