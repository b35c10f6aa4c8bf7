package neat

import (
	"fmt"
	"sort"
)

// neuralNode represents a node during network activation.
// It stores the pre-fetched activation function and the incoming links.
type neuralNode struct {
	ID           int
	Bias         float64
	ActivationFn ActivationType
	Incoming     []link
}

// link is an enabled incoming connection, resolved to a value slot.
type link struct {
	Source  int // Index of the source node in the value slice
	Weight  float64
	Delayed bool // Reads the value stored by the previous activation
}

// network is the phenotype of a genome: an evaluation order over node slots.
// Values live in one slice indexed like Genome.Nodes. Nodes are evaluated in
// order, so a link whose source comes later in the order (or is the node
// itself) still sees the value from the previous call.
type network struct {
	Inputs    []int // Slots of input nodes, in input order
	Outputs   []int // Slots of output nodes, in output order
	EvalOrder []int // Slots of non-input nodes, in evaluation order
	Nodes     []neuralNode
}

// buildNetwork builds a runnable network from a genome.
// It performs a topological sort to determine the activation order; if cycles
// remain, the unplaced node with the fewest pending inputs is forced next.
func buildNetwork(g *Genome) (*network, error) {
	slots := make(map[int]int, len(g.Nodes))
	nodes := make([]neuralNode, len(g.Nodes))
	net := &network{Nodes: nodes}

	for i, gn := range g.Nodes {
		if _, dup := slots[gn.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %d", gn.ID)
		}
		slots[gn.ID] = i
		actFn, err := GetActivation(gn.Activation)
		if err != nil {
			return nil, fmt.Errorf("failed to get activation function for node %d: %w", gn.ID, err)
		}
		nodes[i] = neuralNode{ID: gn.ID, Bias: gn.Bias, ActivationFn: actFn}
		switch gn.Type {
		case InputNode:
			net.Inputs = append(net.Inputs, i)
		case OutputNode:
			net.Outputs = append(net.Outputs, i)
		}
	}

	// Outgoing adjacency and pending in-degree over enabled edges.
	outgoing := make([][]int, len(nodes))
	inDegree := make([]int, len(nodes))
	for _, cg := range g.Connections {
		if !cg.Enabled {
			continue
		}
		from, okFrom := slots[cg.InNodeID]
		to, okTo := slots[cg.OutNodeID]
		if !okFrom || !okTo {
			return nil, fmt.Errorf("connection %d references a missing node (%d->%d)", cg.Innovation, cg.InNodeID, cg.OutNodeID)
		}
		if g.Nodes[to].Type == InputNode {
			return nil, fmt.Errorf("connection %d targets input node %d", cg.Innovation, cg.OutNodeID)
		}
		nodes[to].Incoming = append(nodes[to].Incoming, link{Source: from, Weight: cg.Weight})
		if from != to && g.Nodes[from].Type != InputNode {
			outgoing[from] = append(outgoing[from], to)
			inDegree[to]++
		}
	}

	placed := make([]bool, len(nodes))
	position := make([]int, len(nodes))
	for i := range position {
		position[i] = -1
	}
	remaining := 0
	for i, gn := range g.Nodes {
		if gn.Type != InputNode {
			remaining++
			continue
		}
		placed[i] = true
	}

	// Kahn's algorithm with lowest-id-first tie breaking for determinism.
	byID := func(a, b int) bool { return nodes[a].ID < nodes[b].ID }
	queue := []int{}
	for i := range nodes {
		if !placed[i] && inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return byID(queue[i], queue[j]) })

	place := func(u int) {
		placed[u] = true
		position[u] = len(net.EvalOrder)
		net.EvalOrder = append(net.EvalOrder, u)
		remaining--
		for _, v := range outgoing[u] {
			inDegree[v]--
			if inDegree[v] == 0 && !placed[v] {
				queue = append(queue, v)
			}
		}
		sort.Slice(queue, func(i, j int) bool { return byID(queue[i], queue[j]) })
	}

	for remaining > 0 {
		if len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			if placed[u] {
				continue
			}
			place(u)
			continue
		}
		// Only cycles are left: break one at its least constrained node.
		forced := -1
		for i := range nodes {
			if placed[i] {
				continue
			}
			if forced == -1 || inDegree[i] < inDegree[forced] ||
				(inDegree[i] == inDegree[forced] && byID(i, forced)) {
				forced = i
			}
		}
		place(forced)
	}

	// Mark links that read a value not yet recomputed in this pass.
	for _, u := range net.EvalOrder {
		for k, l := range nodes[u].Incoming {
			if position[l.Source] >= position[u] {
				nodes[u].Incoming[k].Delayed = true
			}
		}
	}
	return net, nil
}

// activate runs one pass of the network, reading and updating values in place.
func (net *network) activate(values, inputs []float64) []float64 {
	if len(inputs) != len(net.Inputs) {
		panic(fmt.Sprintf("neat: got %d inputs, network has %d input nodes", len(inputs), len(net.Inputs)))
	}
	for i, slot := range net.Inputs {
		values[slot] = inputs[i]
	}

	for _, slot := range net.EvalOrder {
		node := &net.Nodes[slot]
		sum := node.Bias
		for _, l := range node.Incoming {
			sum += l.Weight * values[l.Source]
		}
		values[slot] = node.ActivationFn(sum)
	}

	outputs := make([]float64, len(net.Outputs))
	for i, slot := range net.Outputs {
		outputs[i] = values[slot]
	}
	return outputs
}

// recurrent reports whether any link reads a delayed value.
func (net *network) recurrent() bool {
	for _, n := range net.Nodes {
		for _, l := range n.Incoming {
			if l.Delayed {
				return true
			}
		}
	}
	return false
}
