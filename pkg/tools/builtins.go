package tools

// Builtins returns the full built-in tool set in registration order.
func Builtins() []*Tool {
	return []*Tool{
		readFileTool(),
		insertEditTool(),
		multiReplaceTool(),
		createDirectoryTool(),
		grepSearchTool(),
		searchSymbolsTool(),
		getErrorsTool(),
		listCodeUsagesTool(),
		findTestFilesTool(),
		runInTerminalTool(),
		runTestsTool(),
		getChangedFilesTool(),
		memoryTool(),
		projectSetupTool(),
		resolveLibraryTool(),
		libraryDocsTool(),
	}
}

// DefaultRegistry builds a registry pre-populated with the built-in tools.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Builtins() {
		// Names are unique by construction.
		_ = r.Register(t)
	}
	return r
}
