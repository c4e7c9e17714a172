package viz

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Property
	}{
		{
			name:  "bare string",
			input: `"primary key"`,
			want:  Property{Name: "primary key"},
		},
		{
			name:  "structured record",
			input: `{"name":"id","value":"int"}`,
			want:  Property{Name: "id", Value: "int"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Property
			require.NoError(t, json.Unmarshal([]byte(tt.input), &p))
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestGraphRoundTrip(t *testing.T) {
	input := []byte(`{
		"nodes": [
			{"id": "dba", "name": "DBA", "type": "role", "properties": ["admin", {"name": "level", "value": "senior"}]},
			{"id": "dev", "name": "Developer", "type": "role"}
		],
		"edges": [
			{"source": "dba", "target": "dev", "type": "mentors", "description": "guides schema design"}
		]
	}`)

	var graph Graph
	require.NoError(t, json.Unmarshal(input, &graph))
	require.NoError(t, graph.Validate())

	encoded, err := json.Marshal(&graph)
	require.NoError(t, err)

	var again Graph
	require.NoError(t, json.Unmarshal(encoded, &again))

	assert.Equal(t, graph, again)
	assert.Equal(t, "DBA", again.Nodes[0].Name)
	assert.Equal(t, Property{Name: "admin"}, again.Nodes[0].Properties[0])
	assert.Equal(t, Property{Name: "level", Value: "senior"}, again.Nodes[0].Properties[1])
}

func TestGraphValidate(t *testing.T) {
	tests := []struct {
		name    string
		graph   Graph
		wantErr string
	}{
		{
			name: "valid",
			graph: Graph{
				Nodes: []Node{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}},
				Edges: []Edge{{Source: "a", Target: "b"}},
			},
		},
		{
			name:  "empty graph",
			graph: Graph{},
		},
		{
			name:    "empty node id",
			graph:   Graph{Nodes: []Node{{Name: "A"}}},
			wantErr: "empty id",
		},
		{
			name:    "duplicate node id",
			graph:   Graph{Nodes: []Node{{ID: "a"}, {ID: "a"}}},
			wantErr: "duplicate node id",
		},
		{
			name: "unknown edge source",
			graph: Graph{
				Nodes: []Node{{ID: "a"}},
				Edges: []Edge{{Source: "ghost", Target: "a"}},
			},
			wantErr: "unknown source",
		},
		{
			name: "unknown edge target",
			graph: Graph{
				Nodes: []Node{{ID: "a"}},
				Edges: []Edge{{Source: "a", Target: "ghost"}},
			},
			wantErr: "unknown target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
