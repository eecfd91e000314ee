package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardstream/internal/api"
	"github.com/samcharles93/shardstream/internal/inference"
	"github.com/samcharles93/shardstream/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxNewLimit int64
		resident    bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation HTTP API",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-new-tokens-limit",
				Usage:       "largest max_new_tokens a request may ask for (0 = unlimited)",
				Value:       256,
				Destination: &maxNewLimit,
			},
			&cli.BoolFlag{
				Name:        "resident",
				Usage:       "keep the whole model in memory",
				Destination: &resident,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr)

			dir, err := resolveModelDir(modelDir)
			if err != nil {
				return err
			}
			loader, err := modelLoader(resident, inference.Hooks{})
			if err != nil {
				return err
			}
			lr, err := loader.Load(ctx, dir)
			if err != nil {
				return err
			}
			defer func() {
				if err := lr.Engine.Close(); err != nil {
					log.Warn("close engine", "error", err)
				}
			}()

			server := api.NewServer(lr.Engine, api.ModelInfo{
				Blocks:      lr.Config.NumLayers,
				Hidden:      lr.Config.HiddenSize,
				Heads:       lr.Config.NumHeads,
				Vocab:       lr.Config.VocabSize,
				DType:       loader.DType.String(),
				Shards:      lr.Layout.Total,
				ShardFormat: string(lr.Layout.Format),
				Resident:    resident,
			})
			server.MaxNewTokensLimit = int(maxNewLimit)

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
