package discovery

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// extractTestFunctions walks the top-level statements of a parsed Python
// file and returns a TestDescriptor for every "def test_*(...):" found,
// following the same top-level-node walk as
// C360Studio-semspec/processor/ast/python/parser.go's ParseFile.
func extractTestFunctions(root *sitter.Node, content []byte, module string) []model.TestDescriptor {
	var out []model.TestDescriptor
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		node := child
		if node.Type() == "decorated_definition" {
			node = definitionOf(node)
		}
		if node == nil || node.Type() != "function_definition" {
			continue
		}
		nameNode := node.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := string(content[nameNode.StartByte():nameNode.EndByte()])
		if !strings.HasPrefix(name, "test_") {
			continue
		}
		doc := ""
		if body := node.ChildByFieldName("body"); body != nil {
			doc = extractBodyDocstring(body, content)
		}
		out = append(out, model.TestDescriptor{
			QualifiedName: module + "::" + name,
			Module:        module,
			Name:          name,
			Docstring:     doc,
		})
	}
	return out
}

// definitionOf returns the function_definition/class_definition wrapped
// inside a decorated_definition node.
func definitionOf(decorated *sitter.Node) *sitter.Node {
	for i := 0; i < int(decorated.NamedChildCount()); i++ {
		c := decorated.NamedChild(i)
		if c.Type() == "function_definition" || c.Type() == "class_definition" {
			return c
		}
	}
	return nil
}

// extractBodyDocstring returns the first contiguous string-literal
// statement of a function body, the function-level equivalent of
// C360Studio-semspec's extractModuleDocstring.
func extractBodyDocstring(body *sitter.Node, content []byte) string {
	if body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	expr := first.NamedChild(0)
	if expr.Type() != "string" {
		return ""
	}
	raw := string(content[expr.StartByte():expr.EndByte()])
	return cleanDocstring(raw)
}

// cleanDocstring strips Python string-literal quoting (''' """ ' ") and
// surrounding whitespace.
func cleanDocstring(raw string) string {
	s := strings.TrimSpace(raw)
	for _, q := range []string{`"""`, `'''`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	for _, q := range []string{`"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2 {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
