// coresh — driver CLI and server for the coreemu session engine.
//
// Usage:
//
//	coresh serve                        # run the engine and its gRPC listener
//	coresh session create               # create a session, print its id
//	coresh session set-state <id> <st>  # drive a session to a new state
//	coresh node add <id> <name> <kind>  # add a node to a session
//	coresh link add <id> <net> ...      # add a link on a network
//	coresh xml export <id> -o out.xml   # write a session's persisted XML
//	coresh xml import out.xml           # materialize a session from XML
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreemu/coreemu/internal/corelog"
	cliutil "github.com/coreemu/coreemu/pkg/coreutil/cli"
)

var (
	serverAddr string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cliutil.Red(err.Error()))
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:               "coresh",
	Short:             "Driver CLI for the coreemu session engine",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			return corelog.SetLevel("debug")
		}
		return corelog.SetLevel("warn")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "addr", "a", "127.0.0.1:50051", "coreemu gRPC listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newSessionCmd(),
		newNodeCmd(),
		newLinkCmd(),
		newXMLCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("coresh dev build")
		},
	}
}
