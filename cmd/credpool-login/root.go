package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/client"
	"github.com/Checker-Finance/credpool/pkg/config"
	"github.com/Checker-Finance/credpool/pkg/logger"
)

// rootOptions are the connection flags shared by every subcommand.
type rootOptions struct {
	poolURL string
	token   string
	verbose bool
	log     *zap.Logger
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &rootOptions{log: zap.NewNop()}

	cmd := &cobra.Command{
		Use:           "credpool-login",
		Short:         "Sign in with a credential from the shared pool",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				logger.Init(cfg.ServiceName+"-login", cfg.Env, "debug")
				opts.log = logger.L()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.poolURL, "pool-url", cfg.PoolURL, "pool service base URL (POOL_URL)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", cfg.PoolToken, "bearer token whose subject is your identity (POOL_TOKEN)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stdout")

	cmd.AddCommand(
		newLoginCmd(cfg, opts),
		newAssignmentCmd(opts),
		newReleaseCmd(opts),
		newTokenCmd(cfg),
	)
	return cmd
}

func (o *rootOptions) poolClient() (*client.PoolClient, error) {
	if o.token == "" {
		return nil, fmt.Errorf("a bearer token is required (--token or POOL_TOKEN)")
	}
	return client.New(client.Config{
		BaseURL:  o.poolURL,
		Token:    o.token,
		RetryMax: 2,
	}, nil, o.log.Named("pool_client"))
}
