package planner

import (
	"fmt"
	"io"
	"strings"

	"github.com/grafana/colprep/pkg/prep/internal/operator"
	"github.com/grafana/colprep/pkg/prep/internal/table"
)

// property is a key-value pair of a [node]. A single-value property is
// printed as `key=value` and a multi-value property as
// `key=(value1, value2, ...)`.
type property struct {
	key    string
	values []any
	multi  bool
}

func newProperty(key string, multi bool, values ...any) property {
	return property{key: key, values: values, multi: multi}
}

// node is an element of the printed plan tree.
type node struct {
	name       string
	properties []property
	children   []*node
}

func (n *node) addChild(name string, properties ...property) *node {
	child := &node{name: name, properties: properties}
	n.children = append(n.children, child)
	return child
}

// Sprint returns the tree representation of p.
func Sprint(p *Plan) string {
	var sb strings.Builder
	_ = Fprint(&sb, p)
	return sb.String()
}

// Fprint writes the tree representation of p to w.
func Fprint(w io.Writer, p *Plan) error {
	root := &node{name: "Plan", properties: []property{newProperty("units", false, len(p.Units))}}
	for _, u := range p.Units {
		unit := root.addChild(u.Kind.String(),
			newProperty("name", false, fmt.Sprintf("%q", u.Name)),
			newProperty("columns", true, refsToAny(u.Columns)...),
		)
		switch u.Kind {
		case UnitIndependent:
			for _, step := range u.Steps {
				unit.addChild("Step", stepProperties(step.Name, step)...)
			}
		case UnitFused:
			for i, branches := range u.SuperSteps {
				super := unit.addChild("SuperStep", newProperty("position", false, i))
				for _, b := range branches {
					super.addChild("Branch", stepProperties(b.Name, b.Step)...)
				}
			}
		}
	}

	pr := &printer{w: w}
	pr.print(root, "", "")
	return pr.err
}

func stepProperties(name string, step Step) []property {
	class := "<skipped>"
	if step.Op != nil {
		class = operator.ClassName(step.Op)
	}
	return []property{
		newProperty("name", false, fmt.Sprintf("%q", name)),
		newProperty("class", false, class),
		newProperty("columns", true, refsToAny(step.Columns)...),
	}
}

func refsToAny(refs []table.Ref) []any {
	out := make([]any, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) print(n *node, prefix, childPrefix string) {
	p.writeString(prefix + n.name)
	for _, prop := range n.properties {
		p.writeString(" " + prop.key + "=")
		if !prop.multi {
			p.writeString(fmt.Sprint(prop.values...))
			continue
		}
		parts := make([]string, 0, len(prop.values))
		for _, v := range prop.values {
			parts = append(parts, fmt.Sprint(v))
		}
		p.writeString("(" + strings.Join(parts, ", ") + ")")
	}
	p.writeString("\n")

	for i, child := range n.children {
		if i == len(n.children)-1 {
			p.print(child, childPrefix+"└── ", childPrefix+"    ")
		} else {
			p.print(child, childPrefix+"├── ", childPrefix+"│   ")
		}
	}
}

func (p *printer) writeString(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}
