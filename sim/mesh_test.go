package sim_test

import (
	"testing"

	"github.com/db47h/bittide"
	"github.com/db47h/bittide/sim"
)

func line(n int) ([]sim.NodeConfig, []sim.Edge) {
	nodes := make([]sim.NodeConfig, n)
	var edges []sim.Edge
	for i := 1; i < n; i++ {
		edges = append(edges, sim.Edge{A: i - 1, B: i})
	}
	return nodes, edges
}

func TestNewMesh_invalid(t *testing.T) {
	td := []struct {
		name  string
		nodes []sim.NodeConfig
		edges []sim.Edge
	}{
		{"empty", nil, nil},
		{"self", make([]sim.NodeConfig, 2), []sim.Edge{{0, 0}}},
		{"range", make([]sim.NodeConfig, 2), []sim.Edge{{0, 2}}},
		{"ports", []sim.NodeConfig{{Degree: 1}, {}, {}}, []sim.Edge{{0, 1}, {0, 2}}},
		{"degree", []sim.NodeConfig{{Degree: 9}}, nil},
		{"actuator", []sim.NodeConfig{{Actuator: 7}}, nil},
	}
	for _, d := range td {
		t.Run(d.name, func(t *testing.T) {
			if m, err := sim.NewMesh(1, d.nodes, d.edges); err == nil {
				m.Dispose()
				t.Fatal("expected an error")
			}
		})
	}
}

func TestMesh_steadyState(t *testing.T) {
	nodes, edges := line(5)
	m, err := sim.NewMesh(2, nodes, edges)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Dispose()
	if err = m.Run(100); err != nil {
		t.Fatal(err)
	}
	if m.Steps() != 100 {
		t.Fatalf("expected 100 steps, got %d", m.Steps())
	}
	for _, n := range m.Nodes() {
		d := n.Control.Debug()
		conns := 2
		if n.ID == 0 || n.ID == 4 {
			conns = 1
		}
		if d.Degree != conns {
			t.Fatalf("node %d: expected %d active links, got %d", n.ID, conns, d.Degree)
		}
		for p := 0; p < conns; p++ {
			if d.BufferLevels[p] != 31 {
				t.Fatalf("node %d, link %d: expected level 31, got %d", n.ID, p, d.BufferLevels[p])
			}
		}
		for p := conns; p < len(d.BufferLevels); p++ {
			if d.Starved[p] != 0 {
				t.Fatalf("node %d: masked link %d was drained", n.ID, p)
			}
		}
		if n.Errors != 0 || n.Err != nil {
			t.Fatalf("node %d: unexpected errors %d, %v", n.ID, n.Errors, n.Err)
		}
	}
}

func TestMesh_data(t *testing.T) {
	nodes, edges := line(3)
	m, err := sim.NewMesh(0, nodes, edges)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Dispose()
	ns := m.Nodes()
	ns[0].Mailbox.Send(bittide.Data(0, 42).Encode())
	ns[2].Mailbox.Send(bittide.Data(0, 7).Encode())
	// one step of link latency, then 30 sync words ahead in the buffer.
	if err = m.Run(32); err != nil {
		t.Fatal(err)
	}
	select {
	case w := <-ns[1].Mailbox.Recv():
		t.Fatalf("early delivery of %v", bittide.Decode(w))
	default:
	}
	if err = m.Step(); err != nil {
		t.Fatal(err)
	}
	for _, exp := range []bittide.Message{bittide.Data(0, 42), bittide.Data(1, 7)} {
		select {
		case w := <-ns[1].Mailbox.Recv():
			if msg := bittide.Decode(w); msg != exp {
				t.Fatalf("expected %v, got %v", exp, msg)
			}
		default:
			t.Fatalf("%v not delivered", exp)
		}
	}

	// node 1 has no link 2.
	ns[1].Mailbox.Send(bittide.Data(5, 1).Encode())
	if err = m.Step(); err != nil {
		t.Fatal(err)
	}
	if bittide.CodeOf(ns[1].Err) != bittide.InvalidNeighbor || ns[1].Errors != 1 {
		t.Fatalf("expected an invalid neighbor error, got %v", ns[1].Err)
	}
}
