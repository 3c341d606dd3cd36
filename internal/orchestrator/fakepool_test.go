package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// fakePool is a scriptable LSPPool double: per-uri canned documentSymbol,
// references and implementation responses, so pipeline tests can drive
// the two-pass flow without spawning a real language server.
type fakePool struct {
	mu sync.Mutex

	symbolsByURI map[string]interface{}
	refsByURI    map[string]interface{}
	implByURI    map[string]interface{}
	failSymbols  map[string]error
	unavailable  map[string]bool

	openDocs map[string]int
}

func newFakePool() *fakePool {
	return &fakePool{
		symbolsByURI: map[string]interface{}{},
		refsByURI:    map[string]interface{}{},
		implByURI:    map[string]interface{}{},
		failSymbols:  map[string]error{},
		unavailable:  map[string]bool{},
		openDocs:     map[string]int{},
	}
}

func (p *fakePool) QueryDocumentSymbols(ctx context.Context, languageId, uri string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failSymbols[uri]; ok {
		return nil, err
	}
	return p.symbolsByURI[uri], nil
}

func (p *fakePool) QueryReferences(ctx context.Context, languageId, uri string, line, character int, includeDeclaration bool) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refsByURI[uri], nil
}

func (p *fakePool) QueryImplementation(ctx context.Context, languageId, uri string, line, character int) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.implByURI[uri], nil
}

func (p *fakePool) NotifyDocumentOpen(languageId, uri, languageIdText, text string, version int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openDocs[uri]++
	return nil
}

func (p *fakePool) NotifyDocumentClose(languageId, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openDocs[uri]--
	return nil
}

func (p *fakePool) IsPermanentlyUnavailable(languageId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unavailable[languageId]
}

func (p *fakePool) StopServer(languageId string) error {
	return nil
}

func (p *fakePool) setUnavailable(languageId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[languageId] = true
}

func (p *fakePool) failAlways(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSymbols[uri] = fmt.Errorf("fake: document symbols unavailable for %s", uri)
}
