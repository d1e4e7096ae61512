package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cliutil "github.com/coreemu/coreemu/pkg/coreutil/cli"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, configure, and drive session state",
	}
	cmd.AddCommand(
		newSessionCreateCmd(),
		newSessionDeleteCmd(),
		newSessionSetStateCmd(),
		newSessionSetConfigCmd(),
	)
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new session in Definition state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			id, err := client.SessionCreate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(cliutil.Green(fmt.Sprintf("session %d created", id)))
			return nil
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Shut down and remove a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return client.SessionDelete(cmd.Context(), id)
		},
	}
}

func newSessionSetStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <id> <state>",
		Short: "Transition a session to a new state",
		Long: `Valid states: definition, configuration, instantiation, runtime,
datacollect, shutdown.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if err := client.SessionSetState(context.Background(), id, args[1]); err != nil {
				return err
			}
			fmt.Printf("session %d -> %s\n", id, cliutil.StateColor(args[1]))
			return nil
		},
	}
}

func newSessionSetConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-config <id> key=value [key=value ...]",
		Short: "Merge key/value pairs into a session's configuration",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			kv := make(map[string]string)
			for _, pair := range args[1:] {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid key=value pair %q", pair)
				}
				kv[k] = v
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return client.SessionSetConfig(cmd.Context(), id, kv)
		},
	}
}

func parseSessionID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return uint32(id), nil
}
