package orchestrator

import "context"

// LSPPool is the subset of *lsp.LspSupervisor the orchestrator drives.
// Accepting an interface here (rather than the concrete supervisor type)
// lets pipeline tests exercise the two-pass/batching/checkpoint logic
// against a fake pool instead of spawning real language servers.
type LSPPool interface {
	QueryDocumentSymbols(ctx context.Context, languageId, uri string) (interface{}, error)
	QueryReferences(ctx context.Context, languageId, uri string, line, character int, includeDeclaration bool) (interface{}, error)
	QueryImplementation(ctx context.Context, languageId, uri string, line, character int) (interface{}, error)
	NotifyDocumentOpen(languageId, uri, languageIdText, text string, version int) error
	NotifyDocumentClose(languageId, uri string) error
	IsPermanentlyUnavailable(languageId string) bool
	StopServer(languageId string) error
}
