package allreduce

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/simulator"
)

// RunAllreducerTests runs a battery of tests on an
// Allreducer.
//
// Every node performs several reductions back to back on
// the same Comms, which checks that the algorithm keeps
// its messages within its own operation.
func RunAllreducerTests(t *testing.T, reducer Allreducer) {
	const rounds = 3
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, size := range []int{0, 3, 1337} {
			for _, randomized := range []bool{false, true} {
				testName := fmt.Sprintf("Nodes=%d,Size=%d,Random=%v", numNodes, size, randomized)
				t.Run(testName, func(t *testing.T) {
					loop := simulator.NewEventLoop()
					vectors := make([][][]float64, rounds)
					sums := make([][]float64, rounds)
					nodes := make([]*simulator.Node, numNodes)
					for i := range nodes {
						nodes[i] = simulator.NewNode()
					}
					for r := range vectors {
						vectors[r] = make([][]float64, numNodes)
						sums[r] = make([]float64, size)
						for i := range nodes {
							vectors[r][i] = make([]float64, size)
							for j := range vectors[r][i] {
								vectors[r][i][j] = rand.NormFloat64()
								sums[r][j] += vectors[r][i][j]
							}
						}
					}

					var network simulator.Network
					if randomized {
						network = simulator.RandomNetwork{}
					} else {
						switcher := simulator.NewGreedyDropSwitcher(numNodes, 1.0)
						network = simulator.NewSwitcherNetwork(switcher, nodes, 0.1)
					}

					results := make([][][]float64, rounds)
					for r := range results {
						results[r] = make([][]float64, numNodes)
					}
					collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
						for r := 0; r < rounds; r++ {
							results[r][c.Index()] = reducer.Allreduce(c, vectors[r][c.Index()], collcomm.Sum)
						}
					})

					if err := loop.Run(); err != nil {
						t.Fatal(err)
					}

					for r := range results {
						verifyReductionResults(t, results[r], sums[r])
					}
				})
			}
		}
	}
}

func verifyReductionResults(t *testing.T, results [][]float64, expected []float64) {
	for i, res := range results[1:] {
		if len(res) != len(expected) {
			t.Errorf("result %d has length %d but expected %d", i+1, len(res), len(expected))
			continue
		}
		for j, actual := range res {
			if actual != results[0][j] {
				t.Errorf("result %d is not identical to result 0", i+1)
				break
			}
		}
	}

	if len(results[0]) != len(expected) {
		t.Errorf("result 0 has length %d but expected %d", len(results[0]), len(expected))
		return
	}
	for i, x := range expected {
		if math.Abs(x-results[0][i]) > 1e-5 {
			t.Errorf("sum is incorrect (expected %f but got %f at component %d)",
				x, results[0][i], i)
			break
		}
	}
}
