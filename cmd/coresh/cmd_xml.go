package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliutil "github.com/coreemu/coreemu/pkg/coreutil/cli"
)

func newXMLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xml",
		Short: "Export and import sessions as persisted XML",
	}
	cmd.AddCommand(newXMLExportCmd(), newXMLImportCmd())
	return cmd
}

func newXMLExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a session's persisted XML to a file",
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
			data, err := client.SessionExportXML(cmd.Context(), id)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Println(cliutil.Green(fmt.Sprintf("session %d exported to %s", id, out)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func newXMLImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Materialize a session from a persisted XML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			client, closeFn, err := dialClient(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			id, err := client.SessionImportXML(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Println(cliutil.Green(fmt.Sprintf("session %d imported from %s", id, args[0])))
			return nil
		},
	}
}
