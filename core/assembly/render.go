package assembly

import (
	"fmt"
	"strings"
)

const renderIndent = 4

// Render writes the machine tree in a readable indented format.
func Render(tree *MachineTree) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Machine: %v (version %v)\n", tree.Machine.Name, tree.Machine.Version)
	for _, node := range tree.Modules {
		renderNode(&b, node, 0)
	}
	return b.String()
}

// RenderModule writes a single module subtree.
func RenderModule(node *Node) string {
	var b strings.Builder
	renderNode(&b, node, 0)
	return b.String()
}

func renderNode(b *strings.Builder, node *Node, indent int) {
	pad := strings.Repeat(" ", indent)
	fmt.Fprintf(b, "%vModule: %v (x%d)\n", pad, node.Module.Name, node.Quantity)

	for _, part := range node.Parts {
		fmt.Fprintf(b, "%vPart: %v (x%d)\n", strings.Repeat(" ", indent+renderIndent), part.Part.Name, part.Quantity)
	}
	for _, submodule := range node.Submodules {
		renderNode(b, submodule, indent+renderIndent)
	}
}
