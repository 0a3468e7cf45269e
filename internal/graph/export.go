package graph

import (
	"fmt"
	"strings"
)

// DOT renders g as a Graphviz digraph. Wiki edges are solid; reference edges
// are dashed and labelled with their field.
func DOT(g Graph) string {
	var b strings.Builder
	b.WriteString("digraph mdbase {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %s [label=%s];\n", dotQuote(n.ID), dotQuote(n.Name))
	}
	for _, e := range g.Edges {
		if e.Type == EdgeReference {
			fmt.Fprintf(&b, "  %s -> %s [style=dashed, label=%s];\n", dotQuote(e.From), dotQuote(e.To), dotQuote(e.Field))
			continue
		}
		fmt.Fprintf(&b, "  %s -> %s;\n", dotQuote(e.From), dotQuote(e.To))
	}
	b.WriteString("}\n")
	return b.String()
}

func dotQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Mermaid renders g as a Mermaid flowchart. Wiki edges use solid arrows;
// reference edges use dotted arrows labelled with their field.
func Mermaid(g Graph) string {
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %s[\"%s\"]\n", mermaidID(n.ID), mermaidLabel(n.Name))
	}
	for _, e := range g.Edges {
		if e.Type == EdgeReference {
			fmt.Fprintf(&b, "  %s -. %s .-> %s\n", mermaidID(e.From), mermaidLabel(e.Field), mermaidID(e.To))
			continue
		}
		fmt.Fprintf(&b, "  %s --> %s\n", mermaidID(e.From), mermaidID(e.To))
	}
	return b.String()
}

// mermaidID maps a document id to a safe node identifier.
func mermaidID(id string) string {
	var b strings.Builder
	b.WriteString("n_")
	for _, r := range id {
		if r < 128 && (r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func mermaidLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
