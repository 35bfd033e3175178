package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// extractGo walks the top level of a Go syntax tree. Go declares methods at
// file scope, so struct and interface types are reported as classes with an
// empty Methods list and each method carries its receiver in the name.
func extractGo(root *sitter.Node, src []byte) Result {
	var res Result
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "function_declaration":
			sym, ok := goFunction(node, src, KindFunction)
			if !ok {
				res.Skipped++
				continue
			}
			res.Symbols = append(res.Symbols, sym)
		case "method_declaration":
			sym, ok := goMethod(node, src)
			if !ok {
				res.Skipped++
				continue
			}
			res.Symbols = append(res.Symbols, sym)
		case "type_declaration":
			res.Symbols = append(res.Symbols, goTypes(node, src, &res.Skipped)...)
		case "import_declaration":
			res.Imports = append(res.Imports, goImports(node, src)...)
		}
	}
	return res
}

func goFunction(node *sitter.Node, src []byte, kind SymbolKind) (Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	start, end := lineSpan(node)
	return Symbol{
		Name:      nodeText(nameNode, src),
		Kind:      kind,
		StartLine: start,
		EndLine:   end,
		Docstring: bodyDocstring(node.ChildByFieldName("body"), src),
	}, true
}

func goMethod(node *sitter.Node, src []byte) (Symbol, bool) {
	sym, ok := goFunction(node, src, KindMethod)
	if !ok {
		return Symbol{}, false
	}
	if recv := goReceiverType(node.ChildByFieldName("receiver"), src); recv != "" {
		sym.Name = recv + "." + sym.Name
	}
	return sym, true
}

// goReceiverType resolves the base type name of a method receiver,
// unwrapping pointers, generic instantiations and package qualifiers.
func goReceiverType(receiver *sitter.Node, src []byte) string {
	if receiver == nil {
		return ""
	}
	for i := 0; i < int(receiver.NamedChildCount()); i++ {
		param := receiver.NamedChild(i)
		if param.Type() != "parameter_declaration" {
			continue
		}
		t := param.ChildByFieldName("type")
		for t != nil {
			switch t.Type() {
			case "pointer_type":
				t = t.NamedChild(0)
			case "generic_type":
				t = t.ChildByFieldName("type")
			case "qualified_type":
				t = t.ChildByFieldName("name")
			default:
				return nodeText(t, src)
			}
		}
	}
	return ""
}

func goTypes(decl *sitter.Node, src []byte, skipped *int) []Symbol {
	var syms []Symbol
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		spec := decl.NamedChild(i)
		if spec.Type() != "type_spec" {
			continue
		}
		typeNode := spec.ChildByFieldName("type")
		if typeNode == nil {
			continue
		}
		if t := typeNode.Type(); t != "struct_type" && t != "interface_type" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		if nameNode == nil {
			*skipped++
			continue
		}
		start, end := lineSpan(spec)
		syms = append(syms, Symbol{
			Name:      nodeText(nameNode, src),
			Kind:      KindClass,
			StartLine: start,
			EndLine:   end,
		})
	}
	return syms
}

func goImports(decl *sitter.Node, src []byte) []string {
	var imports []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "import_spec":
				if path := child.ChildByFieldName("path"); path != nil {
					imports = append(imports, strings.Trim(nodeText(path, src), `"`))
				}
			case "import_spec_list":
				walk(child)
			}
		}
	}
	walk(decl)
	return imports
}
