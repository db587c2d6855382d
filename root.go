package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/chaos-io/bgcompare/config"
	"github.com/chaos-io/bgcompare/replicate"
	"github.com/chaos-io/bgcompare/store"
	"github.com/chaos-io/bgcompare/util"
	nhttp "github.com/chaos-io/bgcompare/util/http"
)

type commandContext struct {
	configFlag *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, tokenFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, tokenFlag: tokenFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		slog.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr))
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) openStore() (store.KeyValueStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Driver, cfg.Store.Path)
}

// replicateClient --token > 保存的 token > 配置里的 key
func (c *commandContext) replicateClient(cmd *cobra.Command) (*replicate.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	var flagToken string
	if c.tokenFlag != nil {
		flagToken = *c.tokenFlag
	}

	token := strings.TrimSpace(flagToken)
	if token == "" {
		kv, err := c.openStore()
		if err != nil {
			return nil, err
		}
		defer func() { _ = kv.Close() }()
		if token, err = store.NewSettings(kv).ResolveToken(cmd.Context(), "", cfg.Replicate.APIKey); err != nil {
			return nil, err
		}
	}
	if token == "" {
		return nil, errNoToken
	}
	return replicate.NewClient(token,
		replicate.WithBaseURL(cfg.Replicate.BaseURL),
		replicate.WithHTTPClient(nhttp.NewHTTPClient(nhttp.WithTimeout(cfg.Replicate.RequestTimeout))),
		replicate.WithPollConfig(cfg.ReplicatePoll()),
	), nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var tokenFlag string

	ctx := newCommandContext(&configFlag, &tokenFlag)

	rootCmd := &cobra.Command{
		Use:           "bgcompare",
		Short:         "Compare background removal models side by side",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd == cmd.Root() {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Replicate API token (overrides stored and configured keys)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRemoveCommand(ctx))
	rootCmd.AddCommand(newCompareCommand(ctx))
	rootCmd.AddCommand(newRecordsCommand(ctx))

	return rootCmd
}
