package hierarchy

import (
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Parser produces symbol nodes for a file.
type Parser interface {
	Parse(code []byte, language, path string) ([]SymbolNode, error)
}

// scopeKinds maps tree-sitter node kinds to scope types per language.
var scopeKinds = map[string]map[string]string{
	"python": {
		"class_definition":    "class",
		"function_definition": "function",
	},
	"javascript": {
		"class_declaration":    "class",
		"function_declaration": "function",
		"method_definition":    "method",
	},
	"typescript": {
		"class_declaration":     "class",
		"function_declaration":  "function",
		"method_definition":     "method",
		"interface_declaration": "interface",
	},
}

// TreeSitterParser parses python, javascript and typescript sources into
// scope-chained symbol nodes. Unsupported languages yield a single
// module-level node spanning the whole file.
type TreeSitterParser struct{}

// NewTreeSitterParser creates the default parser.
func NewTreeSitterParser() *TreeSitterParser {
	return &TreeSitterParser{}
}

// Parse returns the symbol nodes of a file, module node first. Empty input
// yields no nodes.
func (p *TreeSitterParser) Parse(code []byte, language, path string) ([]SymbolNode, error) {
	if len(code) == 0 {
		return nil, nil
	}

	lang := NormalizeLanguage(language)
	kinds, supported := scopeKinds[lang]

	moduleNode := SymbolNode{StartByte: 0, EndByte: uint(len(code))}
	if !supported {
		return []SymbolNode{moduleNode}, nil
	}

	parser := sitter.NewParser()
	if parser == nil {
		return nil, fmt.Errorf("failed to create tree-sitter parser")
	}
	defer parser.Close()

	grammar, err := grammarFor(lang)
	if err != nil {
		return []SymbolNode{moduleNode}, nil
	}
	if err := parser.SetLanguage(grammar); err != nil {
		return nil, fmt.Errorf("failed to set language %s: %w", lang, err)
	}

	tree := parser.Parse(code, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s", path)
	}
	defer tree.Close()

	nodes := []SymbolNode{moduleNode}

	var walk func(node *sitter.Node, scopes []Scope)
	walk = func(node *sitter.Node, scopes []Scope) {
		if node == nil {
			return
		}
		current := scopes
		if scopeType, ok := kinds[node.Kind()]; ok {
			if name := nodeName(node, code); name != "" {
				chain := make([]Scope, len(scopes), len(scopes)+1)
				copy(chain, scopes)
				chain = append(chain, Scope{Name: name, Type: scopeType})
				nodes = append(nodes, SymbolNode{
					StartByte:       node.StartByte(),
					EndByte:         node.EndByte(),
					InclusiveScopes: chain,
				})
				current = chain
			}
		}
		for i := uint(0); i < node.ChildCount(); i++ {
			walk(node.Child(i), current)
		}
	}
	walk(tree.RootNode(), nil)

	return nodes, nil
}

func grammarFor(lang string) (*sitter.Language, error) {
	switch lang {
	case "python":
		return sitter.NewLanguage(tree_sitter_python.Language()), nil
	case "javascript":
		return sitter.NewLanguage(tree_sitter_javascript.Language()), nil
	case "typescript":
		return sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()), nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
}

// nodeName extracts the declared name of a scope-bearing node.
func nodeName(node *sitter.Node, code []byte) string {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ""
	}
	start := nameNode.StartByte()
	end := nameNode.EndByte()
	if int(end) > len(code) {
		end = uint(len(code))
	}
	return string(code[start:end])
}
