package popup

import (
	"encoding/xml"
	"fmt"
	"html"
	"strings"
)

type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(names ...string) string {
	for _, name := range names {
		for _, a := range n.Attrs {
			if a.Name.Local == name && a.Value != "" {
				return a.Value
			}
		}
	}
	return ""
}

func (n *xmlNode) children(name string) []*xmlNode {
	var out []*xmlNode
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

// find returns the first element called name in document order.
func (n *xmlNode) find(name string) *xmlNode {
	if n.XMLName.Local == name {
		return n
	}
	for i := range n.Nodes {
		if f := n.Nodes[i].find(name); f != nil {
			return f
		}
	}
	return nil
}

// RenderSIOSE turns a SIOSE polygon description into nested land cover
// blocks. Input that is not well-formed XML is shown escaped and verbatim.
func RenderSIOSE(doc string, cfg Config) string {
	var root xmlNode
	if err := xml.Unmarshal([]byte(doc), &root); err != nil {
		return rawXML(doc)
	}
	pol := root.find("POLIGONO")
	if pol == nil {
		pol = &root
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<div style="max-height:%dpx;overflow:auto">`, cfg.MaxHeight)
	id, code := pol.attr("Id"), pol.attr("code")
	if id != "" || code != "" {
		fmt.Fprintf(&b, `<div style="font-weight:700;margin-bottom:6px">%s %s</div>`, html.EscapeString(id), html.EscapeString(code))
	}
	for _, c := range pol.children("COBERTURA") {
		renderCover(&b, c)
	}
	b.WriteString("</div>")
	return b.String()
}

func renderCover(b *strings.Builder, n *xmlNode) {
	sup := n.attr("Sup", "Sup_ha")
	if sup != "" {
		sup = "(" + html.EscapeString(sup) + ")"
	}
	fmt.Fprintf(b, `<div style="margin-bottom:6px"><div style="font-weight:700">%s %s %s</div>`,
		html.EscapeString(n.attr("ID")), html.EscapeString(n.attr("Desc")), sup)

	if attrs := n.children("ATRIBUTO"); len(attrs) > 0 {
		b.WriteString(`<ul style="margin:6px 0 0 12px;padding:0;list-style:disc">`)
		for _, a := range attrs {
			fmt.Fprintf(b, `<li style="margin:2px 0">%s - %s</li>`, html.EscapeString(a.attr("ID")), html.EscapeString(a.attr("Desc")))
		}
		b.WriteString("</ul>")
	}
	if kids := n.children("COBERTURA"); len(kids) > 0 {
		b.WriteString(`<div style="margin-top:6px; margin-left:8px">`)
		for _, k := range kids {
			renderCover(b, k)
		}
		b.WriteString("</div>")
	}
	b.WriteString("</div>")
}

func rawXML(doc string) string {
	return `<pre style="white-space:pre-wrap;max-height:200px;overflow:auto;margin:0;background:#f8f8f8;padding:6px;border-radius:4px;">` +
		html.EscapeString(doc) + `</pre>`
}
