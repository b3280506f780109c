package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL        string
	admissionAddr string
	output        string
)

var rootCmd = &cobra.Command{
	Use:   "bridgectl",
	Short: "bridgectl - ws-manager-bridge command line tool",
	Long:  `bridgectl manages the workspace clusters of a ws-manager-bridge installation.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "a", "http://localhost:8080", "bridge admin API URL")
	rootCmd.PersistentFlags().StringVar(&admissionAddr, "admission-addr", "localhost:8081", "cluster admission gRPC address")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
