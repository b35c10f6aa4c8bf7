package neat

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// SmallGenomeThreshold is the connection count below which compatibility
// distance does not normalize excess and disjoint counts by genome size.
const SmallGenomeThreshold = 20

// newConnectionWeightRange bounds the weight of a gene added by MutateAddConnection.
const newConnectionWeightRange = 0.5

// Genome represents an individual organism in the population.
// It consists of NodeGenes and ConnectionGenes referenced by integer id.
type Genome struct {
	ID              int              `json:"id"`
	Nodes           []NodeGene       `json:"nodes"`
	Connections     []ConnectionGene `json:"connections"`
	Fitness         float64          `json:"fitness"`
	AdjustedFitness float64          `json:"adjustedFitness"`
	SpeciesID       int              `json:"speciesId"`
	Activation      string           `json:"activation"`
	InputCount      int              `json:"inputCount"`
	OutputCount     int              `json:"outputCount"`

	// Phenotype cache and recurrent memory; rebuilt after any structural change.
	net    *network
	values []float64
}

// Coefficients weights the terms of the compatibility distance.
type Coefficients struct {
	Excess   float64 // c1
	Disjoint float64 // c2
	Weight   float64 // c3
}

// NewGenome creates a genome with input nodes 0..inputCount-1, output nodes
// inputCount..inputCount+outputCount-1 and no connections.
func NewGenome(id, inputCount, outputCount int, activation string) *Genome {
	activation = normalizeActivation(activation)
	g := &Genome{
		ID:          id,
		Nodes:       make([]NodeGene, 0, inputCount+outputCount),
		Activation:  activation,
		InputCount:  inputCount,
		OutputCount: outputCount,
	}
	for i := 0; i < inputCount; i++ {
		g.Nodes = append(g.Nodes, NodeGene{ID: i, Type: InputNode, Activation: activation})
	}
	for i := 0; i < outputCount; i++ {
		g.Nodes = append(g.Nodes, NodeGene{ID: inputCount + i, Type: OutputNode, Activation: activation})
	}
	return g
}

// Clone deep-copies the genome under a new id. Node ids and innovation
// numbers are preserved; recurrent memory is not.
func (g *Genome) Clone(id int) *Genome {
	return &Genome{
		ID:              id,
		Nodes:           append([]NodeGene(nil), g.Nodes...),
		Connections:     append([]ConnectionGene(nil), g.Connections...),
		Fitness:         g.Fitness,
		AdjustedFitness: g.AdjustedFitness,
		SpeciesID:       g.SpeciesID,
		Activation:      g.Activation,
		InputCount:      g.InputCount,
		OutputCount:     g.OutputCount,
	}
}

// String returns a short description of the genome.
func (g *Genome) String() string {
	return fmt.Sprintf("Genome(ID: %d, Nodes: %d, Connections: %d/%d, Fitness: %.4f)",
		g.ID, len(g.Nodes), g.EnabledConnections(), len(g.Connections), g.Fitness)
}

// EnabledConnections counts the enabled connection genes.
func (g *Genome) EnabledConnections() int {
	n := 0
	for _, cg := range g.Connections {
		if cg.Enabled {
			n++
		}
	}
	return n
}

// MaxInnovation returns the highest innovation number in the genome, or -1 if it has none.
func (g *Genome) MaxInnovation() int {
	highest := -1
	for _, cg := range g.Connections {
		if cg.Innovation > highest {
			highest = cg.Innovation
		}
	}
	return highest
}

func (g *Genome) hasNode(id int) bool {
	for _, n := range g.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// connectionIndex returns the position of the gene for (from, to), or -1.
func (g *Genome) connectionIndex(from, to int) int {
	for i, cg := range g.Connections {
		if cg.InNodeID == from && cg.OutNodeID == to {
			return i
		}
	}
	return -1
}

// invalidate drops the cached phenotype after a structural or weight change.
func (g *Genome) invalidate() {
	g.net = nil
	g.values = nil
}

// phenotype returns the cached network, building it on first use.
// A malformed genome is a programmer error and panics.
func (g *Genome) phenotype() *network {
	if g.net != nil {
		return g.net
	}
	net, err := buildNetwork(g)
	if err != nil {
		panic(fmt.Sprintf("neat: genome %d is malformed: %v", g.ID, err))
	}
	g.net = net
	g.values = make([]float64, len(g.Nodes))
	return net
}

// Activate feeds inputs through the network and returns the output node values.
// Recurrent links read the value their source held after the previous call.
func (g *Genome) Activate(inputs []float64) []float64 {
	net := g.phenotype()
	return net.activate(g.values, inputs)
}

// ActivateDetailed is Activate plus the value of every node keyed by node id.
func (g *Genome) ActivateDetailed(inputs []float64) ([]float64, map[int]float64) {
	outputs := g.Activate(inputs)
	values := make(map[int]float64, len(g.Nodes))
	for i, n := range g.Nodes {
		values[n.ID] = g.values[i]
	}
	return outputs, values
}

// ResetState clears the recurrent memory kept between Activate calls.
func (g *Genome) ResetState() {
	for i := range g.values {
		g.values[i] = 0
	}
}

// IsRecurrent reports whether the enabled graph contains a cycle.
func (g *Genome) IsRecurrent() bool {
	return g.phenotype().recurrent()
}

// SetActivation re-stamps every hidden and output node with a new activation
// function. Weights and biases are kept.
func (g *Genome) SetActivation(name string) {
	name = normalizeActivation(name)
	g.Activation = name
	for i := range g.Nodes {
		g.Nodes[i].Activation = name
	}
	g.invalidate()
}

// Compatibility calculates the genetic distance between this genome and another:
// (c1*E + c2*D)/N + c3*W, where W is the mean absolute weight difference of
// matching genes. The result does not depend on argument order.
func (g *Genome) Compatibility(other *Genome, c Coefficients) float64 {
	mine := make(map[int]float64, len(g.Connections))
	for _, cg := range g.Connections {
		mine[cg.Innovation] = cg.Weight
	}
	theirs := make(map[int]float64, len(other.Connections))
	for _, cg := range other.Connections {
		theirs[cg.Innovation] = cg.Weight
	}
	maxMine := g.MaxInnovation()
	maxTheirs := other.MaxInnovation()

	excess, disjoint := 0, 0
	matching := make([]int, 0, len(mine))
	for innovation := range mine {
		if _, ok := theirs[innovation]; ok {
			matching = append(matching, innovation)
		} else if innovation > maxTheirs {
			excess++
		} else {
			disjoint++
		}
	}
	for innovation := range theirs {
		if _, ok := mine[innovation]; ok {
			continue
		}
		if innovation > maxMine {
			excess++
		} else {
			disjoint++
		}
	}

	// Sum in innovation order so both call orders round identically.
	sort.Ints(matching)
	weightDiffSum := 0.0
	for _, innovation := range matching {
		weightDiffSum += math.Abs(mine[innovation] - theirs[innovation])
	}

	n := float64(max(len(g.Connections), len(other.Connections)))
	if n < SmallGenomeThreshold {
		n = 1
	}

	compatibility := (c.Excess*float64(excess) + c.Disjoint*float64(disjoint)) / n
	if len(matching) > 0 {
		compatibility += c.Weight * weightDiffSum / float64(len(matching))
	}
	return compatibility
}

// MutateWeights perturbs or replaces each connection weight, and each hidden
// and output bias, independently.
func (g *Genome) MutateWeights(rng *rand.Rand, m WeightMutation) {
	for i := range g.Connections {
		g.Connections[i].Weight = mutateFloatAttribute(rng, g.Connections[i].Weight, m)
	}
	for i := range g.Nodes {
		if g.Nodes[i].Type == InputNode {
			continue
		}
		g.Nodes[i].Bias = mutateFloatAttribute(rng, g.Nodes[i].Bias, m)
	}
	g.invalidate()
}

// MutateAddConnection samples up to maxAttempts (from, to) pairs and adds the
// first valid one. Pairs that already have an enabled gene are rejected, as
// are self loops and cycle-forming pairs when recurrence is disallowed. A
// disabled gene for the chosen pair is re-enabled instead of duplicated.
// Returns false, leaving the genome unchanged, if no valid pair was found.
func (g *Genome) MutateAddConnection(rng *rand.Rand, tracker *InnovationTracker, maxAttempts int, allowRecurrent bool) bool {
	// Collect possible input and output nodes for the new connection.
	possibleInputs := make([]int, 0, len(g.Nodes))
	possibleOutputs := make([]int, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		possibleInputs = append(possibleInputs, n.ID)
		if n.Type != InputNode { // Only output/hidden nodes can be targets
			possibleOutputs = append(possibleOutputs, n.ID)
		}
	}
	if len(possibleOutputs) == 0 {
		return false
	}

	for i := 0; i < maxAttempts; i++ {
		inNodeID := possibleInputs[rng.Intn(len(possibleInputs))]
		outNodeID := possibleOutputs[rng.Intn(len(possibleOutputs))]

		existing := g.connectionIndex(inNodeID, outNodeID)
		if existing >= 0 && g.Connections[existing].Enabled {
			continue // Connection already exists
		}
		if !allowRecurrent && createsCycle(g, inNodeID, outNodeID) {
			continue // Recurrent connection disallowed
		}

		if existing >= 0 {
			g.Connections[existing].Enabled = true
		} else {
			g.Connections = append(g.Connections, ConnectionGene{
				InNodeID:   inNodeID,
				OutNodeID:  outNodeID,
				Weight:     randomWeight(rng, newConnectionWeightRange),
				Enabled:    true,
				Innovation: tracker.GetInnovation(inNodeID, outNodeID),
			})
		}
		g.invalidate()
		return true
	}

	// Failed to find a valid connection; expected in dense genomes.
	return false
}

// MutateAddNode splits a random enabled connection: the connection is
// disabled and replaced by in->new (weight 1.0) and new->out (the old weight).
// Returns false if the genome has no enabled connection.
func (g *Genome) MutateAddNode(rng *rand.Rand, tracker *InnovationTracker) bool {
	enabled := make([]int, 0, len(g.Connections))
	for i, cg := range g.Connections {
		if cg.Enabled {
			enabled = append(enabled, i)
		}
	}
	if len(enabled) == 0 {
		return false // Cannot split if no enabled connections exist.
	}

	// Disable the original connection.
	idx := enabled[rng.Intn(len(enabled))]
	g.Connections[idx].Enabled = false
	connToSplit := g.Connections[idx]

	// Create the new node.
	newNodeID := tracker.GetNewNodeID()
	g.Nodes = append(g.Nodes, NodeGene{ID: newNodeID, Type: HiddenNode, Activation: g.Activation})

	// Connection from the original input node to the new node carries weight 1.0,
	// the one leaving it keeps the original weight.
	g.Connections = append(g.Connections,
		ConnectionGene{
			InNodeID:   connToSplit.InNodeID,
			OutNodeID:  newNodeID,
			Weight:     1.0,
			Enabled:    true,
			Innovation: tracker.GetInnovation(connToSplit.InNodeID, newNodeID),
		},
		ConnectionGene{
			InNodeID:   newNodeID,
			OutNodeID:  connToSplit.OutNodeID,
			Weight:     connToSplit.Weight,
			Enabled:    true,
			Innovation: tracker.GetInnovation(newNodeID, connToSplit.OutNodeID),
		},
	)
	g.invalidate()
	return true
}

// SeedConnections adds up to count distinct input->output connections with
// random weights. Used to build the minimal initial population.
func (g *Genome) SeedConnections(rng *rand.Rand, tracker *InnovationTracker, count int) {
	pairs := make([]ConnectionKey, 0, g.InputCount*g.OutputCount)
	for in := 0; in < g.InputCount; in++ {
		for out := 0; out < g.OutputCount; out++ {
			outID := g.InputCount + out
			if g.connectionIndex(in, outID) >= 0 {
				continue
			}
			pairs = append(pairs, ConnectionKey{InNodeID: in, OutNodeID: outID})
		}
	}
	rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	if count > len(pairs) {
		count = len(pairs)
	}
	for _, key := range pairs[:count] {
		g.Connections = append(g.Connections, ConnectionGene{
			InNodeID:   key.InNodeID,
			OutNodeID:  key.OutNodeID,
			Weight:     randomWeight(rng, initWeightRange),
			Enabled:    true,
			Innovation: tracker.GetInnovation(key.InNodeID, key.OutNodeID),
		})
	}
	g.invalidate()
}

// Crossover creates a child by aligning connection genes on innovation number.
// Matching genes come from either parent at random and are disabled with
// disableRate if either copy was disabled; genes only the fitter parent has
// are always inherited, and the other parent never adds structure.
func Crossover(rng *rand.Rand, fitter, other *Genome, childID int, disableRate float64) *Genome {
	child := &Genome{
		ID:          childID,
		Activation:  fitter.Activation,
		InputCount:  fitter.InputCount,
		OutputCount: fitter.OutputCount,
		Connections: make([]ConnectionGene, 0, len(fitter.Connections)),
	}

	otherGenes := make(map[int]ConnectionGene, len(other.Connections))
	for _, cg := range other.Connections {
		otherGenes[cg.Innovation] = cg
	}

	referenced := make(map[int]bool)
	for _, cg := range fitter.Connections {
		gene := cg
		if oc, ok := otherGenes[cg.Innovation]; ok {
			// Homologous gene: inherit one copy uniformly.
			if rng.Float64() < 0.5 {
				gene = oc
			}
			if !cg.Enabled || !oc.Enabled {
				gene.Enabled = rng.Float64() >= disableRate
			}
		}
		child.Connections = append(child.Connections, gene)
		referenced[gene.InNodeID] = true
		referenced[gene.OutNodeID] = true
	}

	otherNodes := make(map[int]NodeGene, len(other.Nodes))
	for _, n := range other.Nodes {
		otherNodes[n.ID] = n
	}
	for _, n := range fitter.Nodes {
		if n.Type == HiddenNode && !referenced[n.ID] {
			continue
		}
		if on, ok := otherNodes[n.ID]; ok && n.Type != InputNode {
			n = n.Crossover(rng, on)
		}
		child.Nodes = append(child.Nodes, n)
	}
	return child
}

// Validate checks the structural invariants of the genome: fixed input and
// output nodes, unique node ids and innovations, and no dangling references.
func (g *Genome) Validate() error {
	ids := make(map[int]NodeType, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("genome %d: duplicate node id %d", g.ID, n.ID)
		}
		ids[n.ID] = n.Type
	}
	for i := 0; i < g.InputCount+g.OutputCount; i++ {
		want := InputNode
		if i >= g.InputCount {
			want = OutputNode
		}
		if got, ok := ids[i]; !ok || got != want {
			return fmt.Errorf("genome %d: node %d must be an %s node", g.ID, i, want)
		}
	}
	innovations := make(map[int]bool, len(g.Connections))
	for _, cg := range g.Connections {
		if innovations[cg.Innovation] {
			return fmt.Errorf("genome %d: duplicate innovation %d", g.ID, cg.Innovation)
		}
		innovations[cg.Innovation] = true
		if _, ok := ids[cg.InNodeID]; !ok {
			return fmt.Errorf("genome %d: connection %d has dangling source %d", g.ID, cg.Innovation, cg.InNodeID)
		}
		target, ok := ids[cg.OutNodeID]
		if !ok {
			return fmt.Errorf("genome %d: connection %d has dangling target %d", g.ID, cg.Innovation, cg.OutNodeID)
		}
		if target == InputNode {
			return fmt.Errorf("genome %d: connection %d targets input node %d", g.ID, cg.Innovation, cg.OutNodeID)
		}
	}
	return nil
}

// createsCycle reports whether adding inNode->outNode would close a cycle
// over the enabled connections.
func createsCycle(genome *Genome, inNode, outNode int) bool {
	// Simple case: direct cycle
	if inNode == outNode {
		return true
	}

	adjacency := make(map[int][]int)
	for _, cg := range genome.Connections {
		if cg.Enabled {
			adjacency[cg.InNodeID] = append(adjacency[cg.InNodeID], cg.OutNodeID)
		}
	}

	// Check if outNode can reach inNode through existing enabled connections.
	visited := make(map[int]bool)
	queue := []int{outNode}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == inNode {
			return true // Found a path back
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		queue = append(queue, adjacency[current]...)
	}
	return false
}
