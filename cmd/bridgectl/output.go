package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gitpod-io/gitpod-sub012/internal/admission"
	"github.com/gitpod-io/gitpod-sub012/internal/api"
)

func printResult(v interface{}) {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	printTable(v)
}

func printTable(v interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	switch data := v.(type) {
	case []admission.ClusterStatus:
		if len(data) == 0 {
			fmt.Println("No clusters found.")
			return
		}
		fmt.Fprintln(w, "NAME\tURL\tSTATE\tSCORE\tGOVERNED\tSTATIC\tCONSTRAINTS")
		for _, c := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%t\t%t\t%s\n",
				c.Name, truncate(c.URL, 48), c.State, c.Score, c.MaxScore, c.Governed, c.Static, constraints(c))
		}
	case []api.BridgeResponse:
		if len(data) == 0 {
			fmt.Println("No bridges running.")
			return
		}
		fmt.Fprintln(w, "NAME\tURL\tREGION\tSTATE\tSCORE")
		for _, b := range data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n", b.Name, truncate(b.URL, 48), b.Region, b.State, b.Score, b.MaxScore)
		}
	case api.InstanceResponse:
		fmt.Fprintf(w, "ID:\t%s\n", data.ID)
		fmt.Fprintf(w, "Workspace:\t%s\n", data.WorkspaceID)
		fmt.Fprintf(w, "Region:\t%s\n", data.Region)
		fmt.Fprintf(w, "Phase:\t%s\n", data.Phase)
		fmt.Fprintf(w, "Status version:\t%d\n", data.StatusVersion)
		if data.IDEURL != "" {
			fmt.Fprintf(w, "IDE URL:\t%s\n", data.IDEURL)
		}
		if data.Conditions.Failed != "" {
			fmt.Fprintf(w, "Failed:\t%s\n", data.Conditions.Failed)
		}
		if data.Conditions.Timeout != "" {
			fmt.Fprintf(w, "Timeout:\t%s\n", data.Conditions.Timeout)
		}
		fmt.Fprintf(w, "Created:\t%s\n", data.CreationTime)
		if data.StartedTime != "" {
			fmt.Fprintf(w, "Started:\t%s\n", data.StartedTime)
		}
		if data.StoppedTime != "" {
			fmt.Fprintf(w, "Stopped:\t%s\n", data.StoppedTime)
		}
	default:
		_ = json.NewEncoder(os.Stdout).Encode(v)
	}
	w.Flush()
}

func constraints(c admission.ClusterStatus) string {
	if len(c.AdmissionConstraints) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(c.AdmissionConstraints))
	for _, ac := range c.AdmissionConstraints {
		if ac.Value == "" {
			parts = append(parts, string(ac.Type))
			continue
		}
		parts = append(parts, string(ac.Type)+"="+ac.Value)
	}
	return strings.Join(parts, ",")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
