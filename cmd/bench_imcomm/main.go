// Command bench_imcomm measures the cost and accuracy of
// inter-model gradient communication on a simulated
// network.
package main

import (
	"flag"

	"github.com/spf13/cobra"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

func main() {
	root := newTrainCommand()
	root.AddCommand(newAllreduceCommand())

	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	root.PersistentFlags().AddGoFlagSet(goFlags)

	defer klog.Flush()
	if err := root.Execute(); err != nil {
		essentials.Die(err)
	}
}

// networkFlags are shared by every benchmark.
type networkFlags struct {
	Latency  float64
	Rate     float64
	Switched bool
	Parallel int
}

func (n *networkFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&n.Latency, "latency", 1e-3, "per-message latency (virtual seconds)")
	cmd.Flags().Float64Var(&n.Rate, "rate", 1e9, "link rate (bytes per virtual second)")
	cmd.Flags().BoolVar(&n.Switched, "switched", false, "share bandwidth through a switch instead of independent links")
	cmd.Flags().IntVar(&n.Parallel, "parallel", 4, "number of simulations to run at once")
}
