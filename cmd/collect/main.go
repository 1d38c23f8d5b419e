package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/LJTian/SectorPulse/internal/collector"
	"github.com/LJTian/SectorPulse/internal/config"
	"github.com/LJTian/SectorPulse/internal/logging"
	"github.com/LJTian/SectorPulse/internal/scheduler"
	"github.com/LJTian/SectorPulse/internal/storage"
)

// 导出命令：默认只执行一轮导出后退出；指定 --schedule 时按 cron 周期执行
func main() {
	log := logging.New()
	cfg := config.Load(log)

	app := &cli.App{
		Name:  "collect",
		Usage: "export ticker news and GDELT events into portfolio_intelligence_YYYY-MM-DD.json",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "days-back",
				Value: cfg.GDELTDaysBack,
				Usage: "number of GDELT daily files to process, counting back from today",
			},
			&cli.StringSliceFlag{
				Name:  "tickers",
				Value: cli.NewStringSlice(cfg.StockTickers...),
				Usage: "tickers whose news go into the Stocks bucket",
			},
			&cli.StringFlag{
				Name:  "out-dir",
				Value: cfg.ExportDir,
				Usage: "directory the archive file is written to",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Value: cfg.ExportCron,
				Usage: "cron spec; empty runs once and exits",
			},
			&cli.BoolFlag{
				Name:  "no-stocks",
				Usage: "skip ticker news",
			},
			&cli.BoolFlag{
				Name:  "no-gdelt",
				Usage: "skip GDELT events",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, cfg, log)
		},
		Version: "1.0.0",
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("collect failed")
	}
}

func run(c *cli.Context, cfg *config.Config, log *logrus.Logger) error {
	entry := log.WithField("service", "collect")

	var fetchers []collector.Fetcher
	if !c.Bool("no-stocks") {
		fetchers = append(fetchers, &collector.StockNewsFetcher{
			Tickers: c.StringSlice("tickers"),
			Log:     entry,
		})
	}
	if !c.Bool("no-gdelt") {
		fetchers = append(fetchers, &collector.GDELTFetcher{
			DaysBack: c.Int("days-back"),
			Log:      entry,
		})
	}

	opts := []scheduler.Option{scheduler.WithLogger(entry)}
	if cfg.PostgresDSN != "" {
		store, err := storage.NewStore(cfg.PostgresDSN, "", entry)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		opts = append(opts, scheduler.WithStore(store))
	}
	s := scheduler.New(fetchers, c.String("out-dir"), opts...)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	spec := c.String("schedule")
	if spec == "" {
		res, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("SUCCESS: %d events saved to %s\n", res.Events, res.Path)
		return nil
	}

	if err := s.Schedule(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.Start()
	entry.WithField("schedule", spec).Info("export scheduler started")

	<-ctx.Done()
	entry.Info("stopping export scheduler...")
	<-s.Stop().Done()
	return nil
}
