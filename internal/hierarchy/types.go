// Package hierarchy turns source files into ordered symbol nodes carrying
// byte spans and scope chains. Tree-sitter grammars back the supported
// languages; anything else degrades to a single module-level node.
package hierarchy

// Scope is one element of a symbol's containment chain.
type Scope struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SymbolNode is a raw parse result: a byte span plus the inclusive scope
// chain from outermost to innermost. Line numbers and display names are
// derived later by the indexer.
type SymbolNode struct {
	StartByte       uint
	EndByte         uint
	InclusiveScopes []Scope
}

// ScopeChainKey renders a scope chain as a stable map key.
func ScopeChainKey(scopes []Scope) string {
	key := ""
	for i, s := range scopes {
		if i > 0 {
			key += "\x00"
		}
		key += s.Name + "\x01" + s.Type
	}
	return key
}
