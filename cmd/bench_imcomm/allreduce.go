package main

import (
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"github.com/unixpickle/gradcomm/simulator"
	"golang.org/x/sync/errgroup"
)

type allreduceFlags struct {
	networkFlags

	Algorithms []string
	Nodes      []int
	Sizes      []int
}

func newAllreduceCommand() *cobra.Command {
	var f allreduceFlags
	cmd := &cobra.Command{
		Use:          "allreduce",
		Short:        "Compare exact all-reduce algorithms",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllreduce(&f)
		},
	}
	f.register(cmd)
	cmd.Flags().StringSliceVar(&f.Algorithms, "algorithms", allreduce.Names(), "algorithms to compare")
	cmd.Flags().IntSliceVar(&f.Nodes, "nodes", []int{2, 16, 32}, "node counts")
	cmd.Flags().IntSliceVar(&f.Sizes, "sizes", []int{10, 10000, 1000000}, "vector sizes")
	return cmd
}

func runAllreduce(f *allreduceFlags) error {
	reducers := make([]allreduce.Allreducer, len(f.Algorithms))
	for i, name := range f.Algorithms {
		r, err := allreduce.ByName(name)
		if err != nil {
			return err
		}
		reducers[i] = r
	}

	type job struct {
		nodes int
		size  int
	}
	var jobs []job
	for _, n := range f.Nodes {
		for _, size := range f.Sizes {
			jobs = append(jobs, job{n, size})
		}
	}

	times := make([][]float64, len(jobs))
	var g errgroup.Group
	g.SetLimit(max(1, f.Parallel))
	for i, j := range jobs {
		i, j := i, j
		times[i] = make([]float64, len(reducers))
		for k, r := range reducers {
			k, r := k, r
			g.Go(func() error {
				t, err := f.timeAllreduce(r, j.nodes, j.size)
				if err != nil {
					return errors.WithMessagef(err, "%s with %d nodes", f.Algorithms[k], j.nodes)
				}
				times[i][k] = t
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	header := append([]string{"Nodes", "Size"}, f.Algorithms...)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	for i, j := range jobs {
		row := []string{strconv.Itoa(j.nodes), humanize.Bytes(uint64(j.size * 8))}
		for _, t := range times[i] {
			row = append(row, strconv.FormatFloat(t, 'f', 6, 64))
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

// timeAllreduce measures the virtual time of one
// reduction.
func (f *allreduceFlags) timeAllreduce(r allreduce.Allreducer, numNodes, size int) (float64, error) {
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, numNodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	collcomm.SpawnComms(loop, f.newNetwork(nodes), nodes, func(c *collcomm.Comms) {
		r.Allreduce(c, make([]float64, size), fakeReduce)
	})
	if err := loop.Run(); err != nil {
		return 0, err
	}
	return loop.Time(), nil
}

// fakeReduce charges the time of a sum without computing
// it.
func fakeReduce(h *simulator.Handle, vecs ...[]float64) []float64 {
	h.Sleep(collcomm.FlopTime * float64(len(vecs)*len(vecs[0])))
	return make([]float64, len(vecs[0]))
}
