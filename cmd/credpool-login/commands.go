package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/credpool/internal/activation"
	"github.com/Checker-Finance/credpool/internal/api"
	"github.com/Checker-Finance/credpool/internal/retry"
	"github.com/Checker-Finance/credpool/pkg/config"
	"github.com/Checker-Finance/credpool/pkg/model"
)

func newLoginCmd(cfg *config.Config, opts *rootOptions) *cobra.Command {
	rc := retry.Config{
		MaxAttempts:       cfg.MaxAttempts,
		Backoff:           cfg.RetryBackoff,
		ActivationTimeout: cfg.ActivationTimeout,
	}
	agentURL := cfg.AgentURL

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Try pool credentials until one signs in",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := opts.poolClient()
			if err != nil {
				return err
			}

			agent := activation.NewAgent(agentURL, opts.log.Named("activation"))
			defer func() { _ = agent.Close() }()
			// An unreachable agent must not be mistaken for dead credentials.
			if err := agent.Connect(cmd.Context()); err != nil {
				return fmt.Errorf("activation agent unavailable: %w", err)
			}

			out := cmd.OutOrStdout()
			orch := retry.New(pc, agent, rc, opts.log.Named("retry"))
			res := orch.AttemptLogin(cmd.Context(), pc.Identity(), func(p retry.Progress) {
				fmt.Fprintf(out, "[%s] %s\n", p.Status, p.Message)
			})
			if !res.Success {
				return errors.New(res.Message)
			}
			fmt.Fprintf(out, "credential #%d (%s) after %d attempt(s)\n",
				res.Credential.Ordinal, res.Credential.ID, res.Attempts)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentURL, "agent-url", agentURL, "activation agent WebSocket URL (AGENT_URL)")
	cmd.Flags().IntVar(&rc.MaxAttempts, "max-attempts", rc.MaxAttempts, "maximum credentials to try")
	cmd.Flags().DurationVar(&rc.Backoff, "backoff", rc.Backoff, "wait between attempts")
	cmd.Flags().DurationVar(&rc.ActivationTimeout, "activation-timeout", rc.ActivationTimeout, "per-attempt activation deadline")
	cmd.Flags().BoolVar(&rc.SkipCurrent, "skip-current", false, "do not retry the credential already held")
	return cmd
}

func newAssignmentCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assignment",
		Short: "Show the credential your identity holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := opts.poolClient()
			if err != nil {
				return err
			}
			c, err := pc.Assignment(cmd.Context())
			if err != nil {
				return err
			}
			printAssignment(cmd.OutOrStdout(), pc.Identity(), c)
			return nil
		},
	}
}

func printAssignment(out io.Writer, identity string, c *model.Credential) {
	if c == nil {
		fmt.Fprintf(out, "%s holds no credential\n", identity)
		return
	}
	fmt.Fprintf(out, "%s holds credential #%d (%s)\n", identity, c.Ordinal, c.ID)
	if c.ExpiresAt != nil {
		fmt.Fprintf(out, "  expires %s\n", c.ExpiresAt.Format(time.RFC3339))
	}
}

func newReleaseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Give back the credential your identity holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := opts.poolClient()
			if err != nil {
				return err
			}
			if err := pc.Release(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s released\n", pc.Identity())
			return nil
		},
	}
}

func newTokenCmd(cfg *config.Config) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an identity (needs JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			tok, err := api.SignToken([]byte(cfg.JWTSecret), cfg.JWTIssuer, subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "identity to encode as the token subject")
	cmd.Flags().StringVar(&role, "role", "", "optional role, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
