package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cliutil "github.com/coreemu/coreemu/pkg/coreutil/cli"
	"github.com/coreemu/coreemu/pkg/rpc"
)

// printLinkSummary prints a small table confirming the impairment applied to
// a link, so link add/update give the operator the same at-a-glance
// confirmation session/node commands do.
func printLinkSummary(sessionID, networkID uint32, opts rpc.LinkOpts) {
	t := cliutil.NewTable("FIELD", "VALUE").WithWidth(tableWidth())
	t.Row("session", fmt.Sprintf("%d", sessionID))
	t.Row("network", fmt.Sprintf("%d", networkID))
	t.Row("a", fmt.Sprintf("%s (%s)", opts.ANode, opts.AVeth))
	t.Row("z", fmt.Sprintf("%s (%s)", opts.ZNode, opts.ZVeth))
	t.Row("bandwidth_bps", fmt.Sprintf("%d", opts.BandwidthBPS))
	t.Row("delay_us", fmt.Sprintf("%d", opts.DelayUS))
	t.Row("jitter_us", fmt.Sprintf("%d", opts.JitterUS))
	t.Row("loss_ppm", fmt.Sprintf("%d", opts.LossPPM))
	t.Row("duplicate_ppm", fmt.Sprintf("%d", opts.DuplicatePPM))
	t.Row("unidirectional", fmt.Sprintf("%t", opts.Unidirectional))
	t.Flush()
}

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Apply, update, and remove per-pair impairments",
	}
	cmd.AddCommand(newLinkAddCmd(), newLinkUpdateCmd(), newLinkDeleteCmd())
	return cmd
}

func linkOptsFlags(cmd *cobra.Command, opts *rpc.LinkOpts) {
	cmd.Flags().StringVar(&opts.ANode, "a-node", "", "endpoint A node name")
	cmd.Flags().StringVar(&opts.AVeth, "a-veth", "", "endpoint A host veth")
	cmd.Flags().StringVar(&opts.AMAC, "a-mac", "", "endpoint A MAC")
	cmd.Flags().StringVar(&opts.ZNode, "z-node", "", "endpoint Z node name")
	cmd.Flags().StringVar(&opts.ZVeth, "z-veth", "", "endpoint Z host veth")
	cmd.Flags().StringVar(&opts.ZMAC, "z-mac", "", "endpoint Z MAC")
	cmd.Flags().Uint64Var(&opts.BandwidthBPS, "bandwidth", 0, "bits/second, 0 = unlimited")
	cmd.Flags().Uint32Var(&opts.DelayUS, "delay", 0, "one-way delay, microseconds")
	cmd.Flags().Uint32Var(&opts.JitterUS, "jitter", 0, "delay jitter, microseconds")
	cmd.Flags().Uint32Var(&opts.LossPPM, "loss", 0, "packet loss, parts-per-million")
	cmd.Flags().Uint32Var(&opts.DuplicatePPM, "duplicate", 0, "duplication rate, parts-per-million")
	cmd.Flags().BoolVar(&opts.Unidirectional, "unidirectional", false, "apply only A->Z instead of both directions")
}

func newLinkAddCmd() *cobra.Command {
	var opts rpc.LinkOpts
	cmd := &cobra.Command{
		Use:   "add <session-id> <network-id>",
		Short: "Establish a link between two endpoints on a network",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			networkID, err := parseSessionID(args[1])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if err := client.LinkAdd(cmd.Context(), sessionID, networkID, opts); err != nil {
				return err
			}
			printLinkSummary(sessionID, networkID, opts)
			return nil
		},
	}
	linkOptsFlags(cmd, &opts)
	return cmd
}

func newLinkUpdateCmd() *cobra.Command {
	var opts rpc.LinkOpts
	cmd := &cobra.Command{
		Use:   "update <session-id> <network-id>",
		Short: "Replace the impairment on an existing link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			networkID, err := parseSessionID(args[1])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if err := client.LinkUpdate(cmd.Context(), sessionID, networkID, opts); err != nil {
				return err
			}
			printLinkSummary(sessionID, networkID, opts)
			return nil
		},
	}
	linkOptsFlags(cmd, &opts)
	return cmd
}

func newLinkDeleteCmd() *cobra.Command {
	var opts rpc.LinkOpts
	cmd := &cobra.Command{
		Use:   "delete <session-id> <network-id>",
		Short: "Remove a link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			networkID, err := parseSessionID(args[1])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return client.LinkDelete(cmd.Context(), sessionID, networkID, opts)
		},
	}
	cmd.Flags().StringVar(&opts.ANode, "a-node", "", "endpoint A node name")
	cmd.Flags().StringVar(&opts.AVeth, "a-veth", "", "endpoint A host veth")
	cmd.Flags().StringVar(&opts.ZNode, "z-node", "", "endpoint Z node name")
	cmd.Flags().StringVar(&opts.ZVeth, "z-veth", "", "endpoint Z host veth")
	return cmd
}
