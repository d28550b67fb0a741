package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"github.com/unixpickle/gradcomm/imcomm"
	"github.com/unixpickle/gradcomm/summary"
	"github.com/unixpickle/gradcomm/toymodel"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

type trainFlags struct {
	networkFlags

	Replicas int
	Layers   int
	Rows     int
	Cols     int

	Epochs       int
	Steps        int
	LearningRate float64
	Seed         int64

	CommTypes  []string
	PosThresh  float64
	NegThresh  float64
	Proportion float64

	Allreducer string
	LogMetrics bool
}

func newTrainCommand() *cobra.Command {
	var f trainFlags
	cmd := &cobra.Command{
		Use:          "bench_imcomm",
		Short:        "Compare gradient communication types on a toy model",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(&f)
		},
	}
	f.register(cmd)
	flags := cmd.Flags()
	flags.IntVar(&f.Replicas, "replicas", 4, "number of model replicas")
	flags.IntVar(&f.Layers, "layers", 3, "number of learning layers")
	flags.IntVar(&f.Rows, "rows", 64, "rows per layer")
	flags.IntVar(&f.Cols, "cols", 64, "columns per layer")
	flags.IntVar(&f.Epochs, "epochs", 2, "training epochs")
	flags.IntVar(&f.Steps, "steps", 20, "steps per epoch")
	flags.Float64Var(&f.LearningRate, "lr", 0.1, "learning rate")
	flags.Int64Var(&f.Seed, "seed", 0, "seed for targets and event ordering")
	flags.StringSliceVar(&f.CommTypes, "comm", []string{
		imcomm.Normal.String(),
		imcomm.OneBitQuantization.String(),
		imcomm.ThreshQuantization.String(),
		imcomm.AdaptiveQuantization.String(),
	}, "communication types to compare")
	flags.Float64Var(&f.PosThresh, "pos-thresh", 0.05, "positive threshold for thresh_quantization")
	flags.Float64Var(&f.NegThresh, "neg-thresh", -0.05, "negative threshold for thresh_quantization")
	flags.Float64Var(&f.Proportion, "proportion", 0.05, "proportion of elements sent by adaptive_quantization")
	flags.StringVar(&f.Allreducer, "allreducer", "ring",
		"exact all-reduce algorithm ("+strings.Join(allreduce.Names(), ", ")+")")
	flags.BoolVar(&f.LogMetrics, "log-metrics", false, "log every per-layer metric")
	return cmd
}

func runTrain(f *trainFlags) error {
	reducer, err := allreduce.ByName(f.Allreducer)
	if err != nil {
		return err
	}
	var types []imcomm.CommType
	for _, name := range f.CommTypes {
		ct, err := imcomm.ParseCommType(name)
		if err != nil {
			return err
		}
		types = append(types, ct)
	}

	// The exact run is the reference for divergence.
	types = append([]imcomm.CommType{imcomm.Normal}, types...)
	results := make([]*toymodel.Result, len(types))
	recorders := make([]*summary.Recorder, len(types))

	var g errgroup.Group
	g.SetLimit(max(1, f.Parallel))
	for i, ct := range types {
		i, ct := i, ct
		recorders[i] = summary.NewRecorder()
		cfg := f.config(ct, recorders[i])
		cfg.Allreducer = reducer
		g.Go(func() error {
			klog.V(1).Infof("training with %s", ct)
			res, err := toymodel.RunReplicas(cfg)
			if err != nil {
				return errors.WithMessagef(err, "train with %s", ct)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Comm", "Virtual time", "Sent", "Messages", "Quantized", "Divergence"})
	for i, ct := range types[1:] {
		res := results[i+1]
		quantized := "-"
		if ct == imcomm.AdaptiveQuantization {
			quantized = humanize.Comma(int64(sumMatching(recorders[i+1], "quantized_count")))
		}
		table.Append([]string{
			ct.String(),
			strconv.FormatFloat(res.Time, 'f', 4, 64),
			humanize.Bytes(uint64(res.BytesSent)),
			humanize.Comma(int64(res.Messages)),
			quantized,
			fmt.Sprintf("%.3g", toymodel.MaxDistance(results[0].Weights[0], res.Weights[0])),
		})
	}
	table.Render()
	return nil
}

func (f *trainFlags) config(ct imcomm.CommType, rec *summary.Recorder) toymodel.Config {
	var layers []toymodel.LayerSpec
	for i := 0; i < f.Layers; i++ {
		layers = append(layers, toymodel.LayerSpec{
			Name: fmt.Sprintf("fc%d", i+1),
			Rows: f.Rows,
			Cols: f.Cols,
		})
	}
	var sink imcomm.Summarizer = rec
	if f.LogMetrics {
		sink = summary.Multi{rec, &summary.Logger{Prefix: ct.String() + ": "}}
	}
	return toymodel.Config{
		Replicas:      f.Replicas,
		Layers:        layers,
		Epochs:        f.Epochs,
		StepsPerEpoch: f.Steps,
		LearningRate:  f.LearningRate,
		Seed:          f.Seed,
		NewNetwork:    f.newNetwork,
		DefaultType:   ct,
		Summarizer:    sink,
		Configure: func(rank int, c *imcomm.Callback, m *toymodel.Model) {
			for _, d := range m.DenseLayers() {
				switch ct {
				case imcomm.ThreshQuantization:
					c.SetLayerThreshold(d.ID(), f.PosThresh, f.NegThresh)
				case imcomm.AdaptiveQuantization:
					c.SetLayerAdaptive(d.ID(), f.Proportion)
				}
			}
		},
	}
}

// sumMatching adds up every metric whose name ends with
// the suffix.
func sumMatching(rec *summary.Recorder, suffix string) float64 {
	var total float64
	for _, name := range rec.Names() {
		if strings.HasSuffix(name, suffix) {
			total += rec.Sum(name)
		}
	}
	return total
}
