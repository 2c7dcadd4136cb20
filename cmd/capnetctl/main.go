package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiFlag     string
	retriesFlag uint64
	timeoutFlag time.Duration
	rootCmd     = &cobra.Command{
		Use:           "capnetctl",
		Short:         "CLI client for the capnet directory API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Directory API base URL")
	rootCmd.PersistentFlags().Uint64Var(&retriesFlag, "retries", 3, "Retries for reads on transport errors and 5xx")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "Per-request timeout")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *client {
	return newAPIClient(apiFlag, timeoutFlag, retriesFlag)
}
