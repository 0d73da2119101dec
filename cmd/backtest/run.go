package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backtest-go/config"
	"backtest-go/infrastructure/logger"
	"backtest-go/internal/container"
)

type runOptions struct {
	configPath string
	dataDir    string
	outputDir  string
	watch      bool
}

func runCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay historical bars through the configured strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.watch {
				return watchAndRun(ctx, opts, cmd.OutOrStdout())
			}
			cfg, err := loadRunConfig(opts)
			if err != nil {
				return err
			}
			return runOnce(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "configs/backtest.yaml", "配置文件路径")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "覆盖 data.dir")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "覆盖 output.directory")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "配置文件变更后重新回测")
	return cmd
}

func loadRunConfig(opts *runOptions) (config.AppConfig, error) {
	cfg, err := config.LoadWithEnvOverrides(opts.configPath)
	if err != nil {
		return cfg, err
	}
	return applyFlags(cfg, opts), nil
}

func applyFlags(cfg config.AppConfig, opts *runOptions) config.AppConfig {
	if opts.dataDir != "" {
		cfg.Data.Dir = opts.dataDir
	}
	if opts.outputDir != "" {
		cfg.Output.Directory = opts.outputDir
	}
	return cfg
}

// runOnce 构建容器、跑一次回测并打印汇总。
func runOnce(ctx context.Context, cfg config.AppConfig, out io.Writer) (err error) {
	c := container.New(cfg)
	if err := c.Build(); err != nil {
		return err
	}
	defer func() {
		if stopErr := c.Stop(); err == nil {
			err = stopErr
		}
	}()
	if err := c.Start(ctx); err != nil {
		return err
	}
	report, err := c.Run(ctx)
	if report != nil {
		if werr := report.WriteSummary(out); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func watchAndRun(ctx context.Context, opts *runOptions, out io.Writer) error {
	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return err
	}
	defer log.Close()

	w, err := config.NewWatcher(opts.configPath, 500*time.Millisecond, log)
	if err != nil {
		return err
	}
	updates := make(chan config.AppConfig, 1)
	if err := w.Start(ctx, func(cfg config.AppConfig) {
		select {
		case updates <- cfg:
		default:
			// 只保留最新一份
			select {
			case <-updates:
			default:
			}
			updates <- cfg
		}
	}); err != nil {
		return err
	}
	defer w.Stop()

	cfg, err := loadRunConfig(opts)
	for {
		if err != nil {
			log.Warn("config invalid, waiting for next change", zap.Error(err))
		} else if runErr := runOnce(ctx, cfg, out); runErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.LogError(runErr, map[string]interface{}{"action": "run"})
		}
		log.Info("waiting for config change", zap.String("path", opts.configPath))
		select {
		case <-ctx.Done():
			return nil
		case next := <-updates:
			cfg, err = applyFlags(next, opts), nil
			fmt.Fprintln(out, "---")
		}
	}
}
