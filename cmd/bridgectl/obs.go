package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var obsCmd = &cobra.Command{
	Use:   "obs",
	Short: "Observability commands (query a Prometheus-compatible store)",
}

var metricsURL string

type PromResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func runQueries(queries map[string]string) {
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %s\n", name, queryMetrics(metricsURL, queries[name]))
	}
}

var obsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show bridge summary metrics",
	Run: func(cmd *cobra.Command, args []string) {
		runQueries(map[string]string{
			"Active Bridges":     `bridge_active_bridges`,
			"Status Update Rate": `sum(rate(bridge_status_updates_total[5m]))`,
			"Stale Update Rate":  `sum(rate(bridge_stale_status_updates_total[5m]))`,
			"Stream Reconnects":  `sum(increase(bridge_stream_reconnects_total[1h]))`,
			"Reconcile Errors":   `sum(increase(bridge_reconcile_total{outcome!="ok"}[1h]))`,
			"Instances Stopped":  `sum(increase(bridge_instances_marked_stopped_total[1h]))`,
			"Publish Failures":   `sum(increase(bridge_publish_failures_total[1h]))`,
		})
	},
}

var obsLatencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Show status update and startup latency",
	Run: func(cmd *cobra.Command, args []string) {
		runQueries(map[string]string{
			"Status Update P50": `histogram_quantile(0.5, sum(rate(bridge_status_update_duration_seconds_bucket[5m])) by (le))`,
			"Status Update P95": `histogram_quantile(0.95, sum(rate(bridge_status_update_duration_seconds_bucket[5m])) by (le))`,
			"Startup P95":       `histogram_quantile(0.95, sum(rate(bridge_workspace_startup_seconds_bucket[1h])) by (le))`,
			"HTTP P95":          `histogram_quantile(0.95, sum(rate(bridge_http_request_duration_seconds_bucket[5m])) by (le))`,
		})
	},
}

var obsClustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Show per-cluster score and cordon state",
	Run: func(cmd *cobra.Command, args []string) {
		runQueries(map[string]string{
			"Cordoned Clusters": `sum(bridge_cluster_cordoned)`,
			"Total Score":       `sum(bridge_cluster_score)`,
			"Total Max Score":   `sum(bridge_cluster_max_score)`,
		})
	},
}

func queryMetrics(baseURL, query string) string {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/query?query=" + url.QueryEscape(query))
	if err != nil {
		return "error: " + err.Error()
	}
	defer resp.Body.Close()

	var promResp PromResponse
	if err := json.NewDecoder(resp.Body).Decode(&promResp); err != nil {
		return "parse error"
	}

	if len(promResp.Data.Result) == 0 {
		return "no data"
	}

	result := promResp.Data.Result[0]
	if len(result.Value) >= 2 {
		return fmt.Sprintf("%v", result.Value[1])
	}
	return "no value"
}

func init() {
	obsCmd.PersistentFlags().StringVar(&metricsURL, "metrics-url", "http://localhost:8428", "Prometheus-compatible query URL")
	obsCmd.AddCommand(obsSummaryCmd, obsLatencyCmd, obsClustersCmd)
	rootCmd.AddCommand(obsCmd)
}
