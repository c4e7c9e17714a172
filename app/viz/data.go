package viz

import (
	"encoding/json"
	"fmt"
)

// Graph is the node/edge payload produced by the external generator and
// rendered by frontend diagram components.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Node struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       string     `json:"type,omitempty"`
	Properties []Property `json:"properties,omitempty"`
}

type Edge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Property is either a bare string ("primary key") or a structured
// attribute record ({"name": "id", "value": "int"}) in generator output.
type Property struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

func (p *Property) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		p.Name = s
		p.Value = ""

		return nil
	}

	type plain Property

	var result plain
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}

	*p = Property(result)

	return nil
}

func (p Property) MarshalJSON() ([]byte, error) {
	if p.Value == "" {
		return json.Marshal(p.Name)
	}

	type plain Property

	return json.Marshal(plain(p))
}

// Validate enforces node id uniqueness and edge referential integrity.
// A graph failing validation is rejected as a whole.
func (g *Graph) Validate() error {
	ids := make(map[string]struct{}, len(g.Nodes))

	for i, node := range g.Nodes {
		if node.ID == "" {
			return fmt.Errorf("node %d has an empty id", i)
		}

		if _, ok := ids[node.ID]; ok {
			return fmt.Errorf("duplicate node id %q", node.ID)
		}

		ids[node.ID] = struct{}{}
	}

	for i, edge := range g.Edges {
		if _, ok := ids[edge.Source]; !ok {
			return fmt.Errorf("edge %d references unknown source node %q", i, edge.Source)
		}

		if _, ok := ids[edge.Target]; !ok {
			return fmt.Errorf("edge %d references unknown target node %q", i, edge.Target)
		}
	}

	return nil
}
