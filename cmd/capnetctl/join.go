package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	var email, agentID, operatorID, skills string
	var updatesOnly bool
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the waitlist or self-register an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), newClient(), joinArgs{
				Email:       email,
				AgentID:     agentID,
				OperatorID:  operatorID,
				Skills:      skills,
				UpdatesOnly: updatesOnly,
			}, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Contact email (required)")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id to register")
	cmd.Flags().StringVar(&operatorID, "operator", "", "Preferred operator id")
	cmd.Flags().StringVar(&skills, "skills", "", "Comma separated skills")
	cmd.Flags().BoolVar(&updatesOnly, "updates-only", false, "Only join the waitlist")
	_ = cmd.MarkFlagRequired("email")
	rootCmd.AddCommand(cmd)
}

type joinArgs struct {
	Email       string
	AgentID     string
	OperatorID  string
	Skills      string
	UpdatesOnly bool
}

func runJoin(ctx context.Context, c *client, a joinArgs, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(a.Email) == "" {
		return fmt.Errorf("--email required")
	}
	payload := map[string]interface{}{"email": a.Email}
	if a.AgentID != "" {
		payload["agentId"] = a.AgentID
	}
	if a.OperatorID != "" {
		payload["operatorId"] = a.OperatorID
	}
	if a.Skills != "" {
		payload["skills"] = a.Skills
	}
	if a.UpdatesOnly {
		payload["justUpdates"] = true
	}
	data, err := c.post(ctx, "/api/join", payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
