package parser

import sitter "github.com/smacker/go-tree-sitter"

// extractPython walks the top level of a Python syntax tree. Class bodies are
// walked recursively so methods and nested classes land under Methods;
// functions nested inside function bodies are deliberately not collected.
func extractPython(root *sitter.Node, src []byte) Result {
	var res Result
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := undecorated(root.NamedChild(i))
		switch node.Type() {
		case "function_definition":
			sym, ok := pythonFunction(node, src, KindFunction)
			if !ok {
				res.Skipped++
				continue
			}
			res.Symbols = append(res.Symbols, sym)
		case "class_definition":
			sym, ok := pythonClass(node, src, &res.Skipped)
			if !ok {
				res.Skipped++
				continue
			}
			res.Symbols = append(res.Symbols, sym)
		case "import_statement", "import_from_statement":
			res.Imports = append(res.Imports, pythonImports(node, src)...)
		}
	}
	return res
}

// undecorated unwraps decorator nodes so the definition underneath is
// classified directly.
func undecorated(node *sitter.Node) *sitter.Node {
	if node != nil && node.Type() == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			return def
		}
	}
	return node
}

func pythonFunction(node *sitter.Node, src []byte, kind SymbolKind) (Symbol, bool) {
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

func pythonClass(node *sitter.Node, src []byte, skipped *int) (Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	start, end := lineSpan(node)
	sym := Symbol{
		Name:      nodeText(nameNode, src),
		Kind:      KindClass,
		StartLine: start,
		EndLine:   end,
		Docstring: bodyDocstring(node.ChildByFieldName("body"), src),
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return sym, true
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := undecorated(body.NamedChild(i))
		switch member.Type() {
		case "function_definition":
			m, ok := pythonFunction(member, src, KindMethod)
			if !ok {
				*skipped++
				continue
			}
			sym.Methods = append(sym.Methods, m)
		case "class_definition":
			m, ok := pythonClass(member, src, skipped)
			if !ok {
				*skipped++
				continue
			}
			sym.Methods = append(sym.Methods, m)
		}
	}
	return sym, true
}

// pythonImports records module paths only; imported names are irrelevant to
// the file-level import graph.
func pythonImports(node *sitter.Node, src []byte) []string {
	if node.Type() == "import_from_statement" {
		if mod := node.ChildByFieldName("module_name"); mod != nil {
			return []string{nodeText(mod, src)}
		}
		return nil
	}
	var imports []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			imports = append(imports, nodeText(child, src))
		case "aliased_import":
			if name := child.ChildByFieldName("name"); name != nil {
				imports = append(imports, nodeText(name, src))
			}
		}
	}
	return imports
}
