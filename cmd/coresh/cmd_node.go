package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cliutil "github.com/coreemu/coreemu/pkg/coreutil/cli"
)

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Create, attach, and remove nodes",
	}
	cmd.AddCommand(newNodeAddCmd(), newNodeDeleteCmd(), newNodeIfaceAddCmd())
	return cmd
}

func newNodeAddCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "add <session-id> <name> <kind>",
		Short: "Create a node (kind: default, physical, tunnel, raw-ethernet)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			id, err := client.NodeCreate(cmd.Context(), sessionID, args[1], args[2], model)
			if err != nil {
				return err
			}
			fmt.Println(cliutil.Green(fmt.Sprintf("node %d created", id)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "node model hint, e.g. a router profile name")
	return cmd
}

func newNodeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id> <node-id>",
		Short: "Remove a node and its interfaces",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			nodeID, err := parseSessionID(args[1])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return client.NodeDelete(cmd.Context(), sessionID, nodeID)
		},
	}
}

func newNodeIfaceAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "iface-add <session-id> <node-id> <network-id>",
		Short: "Attach a node to a network, drawing a fresh address",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			nodeID, err := parseSessionID(args[1])
			if err != nil {
				return err
			}
			networkID, err := parseSessionID(args[2])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			ifaceID, err := client.IfaceAdd(cmd.Context(), sessionID, nodeID, networkID)
			if err != nil {
				return err
			}
			fmt.Println(cliutil.Green(fmt.Sprintf("interface %d attached", ifaceID)))
			return nil
		},
	}
}
