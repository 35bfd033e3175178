package parser

import sitter "github.com/smacker/go-tree-sitter"

// extractTypeScript walks the top level of a TypeScript or TSX syntax tree.
// It extends the JavaScript walk with interfaces and abstract classes, both
// reported as classes.
func extractTypeScript(root *sitter.Node, src []byte) Result {
	var res Result
	for i := 0; i < int(root.NamedChildCount()); i++ {
		tsTopLevel(root.NamedChild(i), src, &res)
	}
	return res
}

func tsTopLevel(node *sitter.Node, src []byte, res *Result) {
	switch node.Type() {
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			tsTopLevel(decl, src, res)
		}
	case "interface_declaration":
		sym, ok := tsInterface(node, src)
		if !ok {
			res.Skipped++
			return
		}
		res.Symbols = append(res.Symbols, sym)
	case "abstract_class_declaration":
		sym, ok := jsClass(node, src, &res.Skipped)
		if !ok {
			res.Skipped++
			return
		}
		res.Symbols = append(res.Symbols, sym)
	default:
		jsTopLevel(node, src, res)
	}
}

func tsInterface(node *sitter.Node, src []byte) (Symbol, bool) {
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
		if member.Type() != "method_signature" {
			continue
		}
		nameNode := member.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		mStart, mEnd := lineSpan(member)
		sym.Methods = append(sym.Methods, Symbol{
			Name:      nodeText(nameNode, src),
			Kind:      KindMethod,
			StartLine: mStart,
			EndLine:   mEnd,
		})
	}
	return sym, true
}
