package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sofiworker/gdivert/glog"
	"github.com/sofiworker/gdivert/gnet/divert"
	"github.com/sofiworker/gdivert/gnet/flow"
	"github.com/sofiworker/gdivert/gnet/packet"
)

type runOptions struct {
	source      string
	input       string
	output      string
	iface       string
	flags       string
	protocols   []string
	priority    int16
	recalculate bool
	topFlows    int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Divert packets until the input ends or the process is interrupted",
		Long: `Open a divert handle and pass every matching packet through.

Examples:
  gdivert run --input in.pcap --output out.pcap --protocol tcp
  gdivert run --source raw --interface eth0 --flags SNIFF
  gdivert run -c gdivert.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, opts.overrides(cmd))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			stats, flows, err := runDivert(ctx, cfg)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			s := stats.Snapshot()
			fmt.Fprintf(w, "received=%d accepted=%d dropped=%d reinjected=%d bytes=%d errors=%d\n",
				s.Received, s.Accepted, s.Dropped, s.Reinjected, s.Bytes, s.Errors)
			for _, f := range flows.Top(opts.topFlows) {
				fmt.Fprintf(w, "%s packets=%d/%d bytes=%d\n", f.Key, f.PacketsOut, f.PacketsIn, f.Bytes())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.source, "source", divert.SourcePcap, "packet source: pcap or raw")
	f.StringVarP(&opts.input, "input", "i", "", "pcap or pcapng input file")
	f.StringVarP(&opts.output, "output", "o", "", "output file for reinjected packets, pcapng when it ends in .pcapng")
	f.StringVar(&opts.iface, "interface", "", "interface for the raw source, all interfaces when empty")
	f.StringVar(&opts.flags, "flags", "DEFAULT", "handle flags, e.g. SNIFF|NO_CHECKSUM")
	f.StringSliceVarP(&opts.protocols, "protocol", "p", nil, "only divert these next protocols (tcp, udp, icmp, icmpv6)")
	f.Int16Var(&opts.priority, "priority", 0, "handle priority")
	f.BoolVar(&opts.recalculate, "recalculate", false, "recalculate checksums before reinjection")
	f.IntVar(&opts.topFlows, "top", 10, "print the busiest flows when the run ends, 0 prints all")
	return cmd
}

// overrides 只收集显式给出的参数，未设置的参数不覆盖配置文件。
func (o *runOptions) overrides(cmd *cobra.Command) map[string]interface{} {
	values := map[string]struct {
		key   string
		value interface{}
	}{
		"source":      {"source", o.source},
		"input":       {"input", o.input},
		"output":      {"output", o.output},
		"interface":   {"interface", o.iface},
		"flags":       {"flags", o.flags},
		"protocol":    {"protocols", o.protocols},
		"priority":    {"priority", o.priority},
		"recalculate": {"checksum.recalculate", o.recalculate},
	}
	out := make(map[string]interface{})
	for flag, v := range values {
		if cmd.Flags().Changed(flag) {
			out[v.key] = v.value
		}
	}
	return out
}

func runDivert(ctx context.Context, cfg *divert.Config) (*divert.Stats, *flow.Tracker, error) {
	logOpts, err := cfg.LogOptions()
	if err != nil {
		return nil, nil, err
	}
	if err := glog.Configure(logOpts...); err != nil {
		return nil, nil, err
	}
	defer func() { _ = glog.Sync() }()
	log := glog.Named("gdivert")

	h, err := cfg.NewHandle(divert.WithLogger(log.Named("handle")))
	if err != nil {
		return nil, nil, err
	}
	if err := h.Open(ctx); err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.Warn("close handle", "error", err)
		}
	}()
	if err := cfg.ApplyParams(h); err != nil {
		return nil, nil, err
	}

	runOpts, err := cfg.RunOptions()
	if err != nil {
		return nil, nil, err
	}
	stats := &divert.Stats{}
	runOpts = append(runOpts, divert.WithStats(stats), divert.WithRunLogger(log))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	flows := flow.NewTracker()
	flows.StartCleanup(runCtx, 0)

	// Key 与 Packet 都是 fmt.Stringer，只有启用 debug 时才会格式化。
	err = divert.Run(runCtx, h, func(ctx context.Context, p *packet.Packet) (divert.Verdict, error) {
		st := flows.ProcessPacket(p)
		log.DebugContext(ctx, "packet", "flow", st.Key, "packet", p)
		return divert.VerdictAccept, nil
	}, runOpts...)
	return stats, flows, err
}
