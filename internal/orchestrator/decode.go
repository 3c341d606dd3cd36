package orchestrator

import (
	"encoding/json"
	"fmt"

	"ckb/internal/symbolmap"
)

// decodeVia round-trips an LSP response (already unmarshalled into
// interface{} by the JSON-RPC layer per jsonrpc.go) into a typed target
// through encoding/json. The alternative — hand-walking
// map[string]interface{} the way adapter.go's parseLocation does — does
// not scale to documentSymbol's recursive tree shape, so the mapper
// inputs are decoded this way instead.
func decodeVia(raw interface{}, target interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-marshal LSP response: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode LSP response: %w", err)
	}
	return nil
}

// decodeDocumentSymbols parses a textDocument/documentSymbol response.
func decodeDocumentSymbols(raw interface{}) ([]symbolmap.DocumentSymbol, error) {
	if raw == nil {
		return nil, nil
	}
	var symbols []symbolmap.DocumentSymbol
	if err := decodeVia(raw, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// decodeLocations parses a textDocument/references or
// textDocument/implementation response (both return Location | Location[]).
func decodeLocations(raw interface{}) ([]symbolmap.Location, error) {
	if raw == nil {
		return nil, nil
	}
	switch raw.(type) {
	case []interface{}:
		var locs []symbolmap.Location
		if err := decodeVia(raw, &locs); err != nil {
			return nil, err
		}
		return locs, nil
	default:
		var loc symbolmap.Location
		if err := decodeVia(raw, &loc); err != nil {
			return nil, err
		}
		if loc.URI == "" {
			return nil, nil
		}
		return []symbolmap.Location{loc}, nil
	}
}
