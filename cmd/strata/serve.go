package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/strata/internal/api"
	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/version"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		logLevel    string
		logFormat   string
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the debug and benchmark HTTP API",
		Flags: []cli.Flag{
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
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", Destination: &logLevel},
			&cli.StringFlag{Name: "log-format", Value: "json", Usage: "json or pretty", Destination: &logFormat},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			fileCfg, err := loadConfig()
			if err != nil {
				return err
			}
			if fileCfg.ServerAddress != "" && !c.IsSet("addr") {
				addr = fileCfg.ServerAddress
			}
			if fileCfg.LogLevel != "" && !c.IsSet("log-level") {
				logLevel = fileCfg.LogLevel
			}
			if fileCfg.LogFormat != "" && !c.IsSet("log-format") {
				logFormat = fileCfg.LogFormat
			}

			var log logger.Logger
			if logFormat == "pretty" {
				log = logger.Pretty(os.Stderr, logger.ParseLevel(logLevel))
			} else {
				log = logger.JSON(os.Stderr, logger.ParseLevel(logLevel))
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			api.NewServer(log.WithGroup("api")).Register(e)

			log.Info("starting server", "address", addr, "version", version.String())
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
