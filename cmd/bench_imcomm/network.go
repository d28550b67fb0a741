package main

import "github.com/unixpickle/gradcomm/simulator"

func (n *networkFlags) newNetwork(nodes []*simulator.Node) simulator.Network {
	if n.Switched {
		switcher := simulator.NewGreedyDropSwitcher(len(nodes), n.Rate)
		return simulator.NewSwitcherNetwork(switcher, nodes, n.Latency)
	}
	return simulator.LinkNetwork{Latency: n.Latency, Rate: n.Rate}
}
