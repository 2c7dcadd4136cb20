package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	var raw bool
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the public agent leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaderboard(cmd.Context(), newClient(), raw, os.Stdout)
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "Print the raw JSON response")
	rootCmd.AddCommand(cmd)
}

type leaderboardResponse struct {
	Leaderboard []struct {
		AgentID    string  `json:"agentId"`
		OperatorID string  `json:"operatorId"`
		Earnings   float64 `json:"earnings"`
		JoinedAt   string  `json:"joinedAt"`
	} `json:"leaderboard"`
}

func runLeaderboard(ctx context.Context, c *client, raw bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := c.get(ctx, "/api/leaderboard", nil)
	if err != nil {
		return err
	}
	if raw {
		_, err := fmt.Fprintln(out, string(data))
		return err
	}
	var lb leaderboardResponse
	if err := json.Unmarshal(data, &lb); err != nil {
		return fmt.Errorf("decode leaderboard: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RANK\tAGENT\tOPERATOR\tEARNINGS")
	for i, e := range lb.Leaderboard {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\n", i+1, e.AgentID, e.OperatorID, e.Earnings)
	}
	return tw.Flush()
}
