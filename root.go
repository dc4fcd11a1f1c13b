package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TIANLI0/ClearBG/config"
	"github.com/TIANLI0/ClearBG/utils"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "clearbg",
		Short:         "ClearBG replaces photo backgrounds with a solid color using Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 加载配置
			opts.cfg = config.NewFromPath(opts.configPath)

			// 初始化日志
			if err := utils.InitLogger(opts.cfg.Server.Mode); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
	}

	cmd.Version = Version
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newRemoveCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:    %s\n", Version)
			fmt.Fprintf(out, "build_time: %s\n", BuildTime)
			fmt.Fprintf(out, "build_id:   %s\n", BuildID)
			fmt.Fprintf(out, "git_commit: %s\n", GitCommit)
			fmt.Fprintf(out, "git_branch: %s\n", GitBranch)
			return nil
		},
	}
}
