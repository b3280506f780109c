package main

import (
	"github.com/spf13/cobra"

	"github.com/gitpod-io/gitpod-sub012/internal/api"
)

type BridgeListResponse struct {
	Bridges []api.BridgeResponse `json:"bridges"`
}

var bridgesCmd = &cobra.Command{
	Use:   "bridges",
	Short: "Inspect running cluster bridges",
}

var bridgesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters with a running bridge",
	Run: func(cmd *cobra.Command, args []string) {
		var resp BridgeListResponse
		if err := NewClient(apiURL).Get("/v1/bridges", &resp); err != nil {
			fail(err)
		}
		printResult(resp.Bridges)
	},
}

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Inspect workspace instances",
}

var instancesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a workspace instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var inst api.InstanceResponse
		if err := NewClient(apiURL).Get("/v1/instances/"+args[0], &inst); err != nil {
			fail(err)
		}
		printResult(inst)
	},
}

func init() {
	bridgesCmd.AddCommand(bridgesListCmd)
	instancesCmd.AddCommand(instancesGetCmd)
	rootCmd.AddCommand(bridgesCmd, instancesCmd)
}
