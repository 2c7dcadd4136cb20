package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show dependency status as reported by the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), newClient(), os.Stdout)
		},
	}
	rootCmd.AddCommand(cmd)
}

type statusResponse struct {
	OK        bool   `json:"ok"`
	CheckedAt string `json:"checkedAt"`
	Services  map[string]struct {
		Status    string `json:"status"`
		LatencyMs *int64 `json:"latencyMs"`
	} `json:"services"`
}

// runStatus prints one line per service and fails when the overall report
// is not ok.
func runStatus(ctx context.Context, c *client, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := c.get(ctx, "/api/status", nil)
	if err != nil {
		return err
	}
	var st statusResponse
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	names := make([]string, 0, len(st.Services))
	for name := range st.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := st.Services[name]
		latency := "-"
		if s.LatencyMs != nil {
			latency = fmt.Sprintf("%dms", *s.LatencyMs)
		}
		_, _ = fmt.Fprintf(out, "%-11s %-9s %s\n", name, s.Status, latency)
	}
	if !st.OK {
		return fmt.Errorf("status not ok (checked %s)", st.CheckedAt)
	}
	return nil
}
