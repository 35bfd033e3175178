package parser

import sitter "github.com/smacker/go-tree-sitter"

// extractJavaScript walks the top level of a JavaScript or JSX syntax tree.
// Functions assigned to const/let/var bindings count as functions under the
// binding's name; anonymous function expressions are not collected.
func extractJavaScript(root *sitter.Node, src []byte) Result {
	var res Result
	for i := 0; i < int(root.NamedChildCount()); i++ {
		jsTopLevel(root.NamedChild(i), src, &res)
	}
	return res
}

func jsTopLevel(node *sitter.Node, src []byte, res *Result) {
	switch node.Type() {
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			jsTopLevel(decl, src, res)
		}
	case "function_declaration", "generator_function_declaration":
		sym, ok := jsFunction(node, src)
		if !ok {
			res.Skipped++
			return
		}
		res.Symbols = append(res.Symbols, sym)
	case "class_declaration":
		sym, ok := jsClass(node, src, &res.Skipped)
		if !ok {
			res.Skipped++
			return
		}
		res.Symbols = append(res.Symbols, sym)
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "variable_declarator" {
				jsDeclarator(child, src, res)
			}
		}
	case "import_statement":
		if source := node.ChildByFieldName("source"); source != nil {
			res.Imports = append(res.Imports, trimStringQuotes(nodeText(source, src)))
		}
	}
}

func jsFunction(node *sitter.Node, src []byte) (Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	start, end := lineSpan(node)
	return Symbol{
		Name:      nodeText(nameNode, src),
		Kind:      KindFunction,
		StartLine: start,
		EndLine:   end,
		Docstring: bodyDocstring(node.ChildByFieldName("body"), src),
	}, true
}

// jsDeclarator reports const/let/var bindings whose value is a function.
func jsDeclarator(node *sitter.Node, src []byte, res *Result) {
	value := node.ChildByFieldName("value")
	if value == nil {
		return
	}
	switch value.Type() {
	case "arrow_function", "function_expression", "function", "generator_function":
	default:
		return
	}
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		res.Skipped++
		return
	}
	start, end := lineSpan(node)
	res.Symbols = append(res.Symbols, Symbol{
		Name:      nodeText(nameNode, src),
		Kind:      KindFunction,
		StartLine: start,
		EndLine:   end,
		Docstring: bodyDocstring(value.ChildByFieldName("body"), src),
	})
}

func jsClass(node *sitter.Node, src []byte, skipped *int) (Symbol, bool) {
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
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return sym, true
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() != "method_definition" {
			continue
		}
		m, ok := jsMethod(member, src)
		if !ok {
			*skipped++
			continue
		}
		sym.Methods = append(sym.Methods, m)
	}
	return sym, true
}

func jsMethod(node *sitter.Node, src []byte) (Symbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Symbol{}, false
	}
	start, end := lineSpan(node)
	return Symbol{
		Name:      nodeText(nameNode, src),
		Kind:      KindMethod,
		StartLine: start,
		EndLine:   end,
		Docstring: bodyDocstring(node.ChildByFieldName("body"), src),
	}, true
}
