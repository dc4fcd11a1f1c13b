package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/client"
	"github.com/TIANLI0/ClearBG/config"
	"github.com/TIANLI0/ClearBG/intake"
	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/session"
	"github.com/TIANLI0/ClearBG/state"
	"github.com/TIANLI0/ClearBG/utils"
)

type removeOptions struct {
	color    string
	proxyURL string
	outDir   string
}

func newRemoveCmd(root *rootOptions) *cobra.Command {
	opts := &removeOptions{}

	cmd := &cobra.Command{
		Use:   "remove FILE",
		Short: "Replace the background of an image through a running proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			path, err := runRemove(cmd.Context(), root.cfg, opts, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.color, "color", "", "background color: white, blue, sky-blue, red, purple")
	cmd.Flags().StringVar(&opts.proxyURL, "proxy", "", "removal proxy URL (default from client.proxy_url)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", ".", "directory for the result")
	return cmd
}

// runRemove 用一个工作区处理单个文件，成功后把下载文件写到 outDir
func runRemove(ctx context.Context, cfg *config.Config, opts *removeOptions, file string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	proxyURL := opts.proxyURL
	if proxyURL == "" {
		proxyURL = cfg.Client.ProxyURL
	}

	wsOpts := sessionOptions(cfg)
	if opts.color != "" {
		color, err := model.ParseColor(opts.color)
		if err != nil {
			return "", err
		}
		wsOpts.DefaultColor = color
	}

	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	previews := intake.NewPreviewStore()
	ws := session.NewWorkspace(utils.GenerateID(), intake.New(previews, cfg.Upload.MaxSize),
		client.NewProxyClient(proxyURL, cfg.Client.Timeout), wsOpts)
	defer ws.Close()

	views, cancel := ws.Subscribe()
	defer cancel()

	// 不声明类型，由内容嗅探
	if _, err := ws.SelectImage(intake.File{Name: filepath.Base(file), Reader: f}); err != nil {
		return "", err
	}

	utils.Logger.Info("removing background",
		zap.String("file", file),
		zap.String("color", wsOpts.DefaultColor.String()),
		zap.String("proxy", proxyURL))

	if err := waitTerminal(ctx, ws, views); err != nil {
		return "", err
	}

	artifact, err := ws.Download()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	out := filepath.Join(opts.outDir, artifact.Filename)
	if err := os.WriteFile(out, artifact.Data, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return out, nil
}

func waitTerminal(ctx context.Context, ws *session.Workspace, views <-chan session.View) error {
	for {
		st := ws.State()
		switch st.Phase {
		case state.PhaseSucceeded:
			return nil
		case state.PhaseFailed:
			return errors.New(st.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-views:
			if !ok {
				return state.ErrStoreClosed
			}
		}
	}
}
