package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"offer-allocation/internal/analysis"
	"offer-allocation/internal/config"
	"offer-allocation/internal/data"
	"offer-allocation/internal/engine"
	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"
	"offer-allocation/internal/recorder"
	"offer-allocation/internal/report"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "offer-allocation",
		Usage: "Allocate hourly demand across priced offers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"CONFIG_FILE"},
				Usage:   "path to YAML config",
			},
			&cli.StringFlag{
				Name:  "feed",
				Usage: "feed document (JSON); overrides feed.file",
			},
			&cli.StringFlag{
				Name:  "catalog",
				Usage: "offer catalog (JSON); overrides feed.catalog_file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug | info | warn | error",
			},
		},
		Commands: []*cli.Command{
			allocateCmd,
			compareCmd,
			statsCmd,
			catalogCmd,
			historyCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println("Error: ", err)
		os.Exit(1)
	}
}

var engineFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "linkage",
		Usage: "none | indicator | all-or-nothing",
	},
	&cli.DurationFlag{
		Name:  "time-limit",
		Usage: "solver time limit",
	},
	&cli.BoolFlag{
		Name:  "no-solver",
		Usage: "run as if no solver were installed",
	},
	&cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "output directory for CSV reports (default: output.dir)",
	},
	&cli.BoolFlag{
		Name:  "record",
		Usage: "record the run to recorder.sqlite_path",
	},
}

var allocateCmd = &cli.Command{
	Name:    "allocate",
	Usage:   "Run one allocation and write CSV reports",
	Aliases: []string{"a"},
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "mode",
			Usage: "auto | heuristic | compare",
		},
	}, engineFlags...),
	Action: func(ctx *cli.Context) error {
		return doAllocate(ctx, "")
	},
}

var compareCmd = &cli.Command{
	Name:  "compare",
	Usage: "Run the optimizer and the iterative allocator on the same feed",
	Flags: engineFlags,
	Action: func(ctx *cli.Context) error {
		return doAllocate(ctx, string(engine.ModeCompare))
	},
}

var statsCmd = &cli.Command{
	Name:  "stats",
	Usage: "Rank offers by mean quoted price",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "show only the first N offers (0 = all)",
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, log, err := setup(ctx)
		if err != nil {
			return err
		}
		feed, err := data.Open(ctx.Context, cfg.FeedSource(), cfg.FeedClient(log), log)
		if err != nil {
			return err
		}
		snap, err := model.NewSnapshot(feed, log)
		if err != nil {
			return err
		}

		ranked := analysis.RankByMeritOrder(snap)
		if n := ctx.Int("limit"); n > 0 && n < len(ranked) {
			ranked = ranked[:n]
		}
		fmt.Printf("%-4s %-16s %-8s %-6s %-10s %-17s %-10s %-12s\n",
			"rank", "offer", "priority", "count", "mean", "min/max", "p95-p05", "capacity")
		for _, r := range ranked {
			fmt.Printf("%-4d %-16s %-8d %-6d %-10.2f %-8.2f/%-8.2f %-10.2f %-12.2f\n",
				r.Rank, r.OfferID, r.Priority, r.Count, r.MeanPrice,
				r.MinPrice, r.MaxPrice, r.SpreadP95P05, r.TotalCapacity)
		}
		return nil
	},
}

var catalogCmd = &cli.Command{
	Name:  "catalog",
	Usage: "Refresh the offer catalog from the feed service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "dataset",
			Usage: "feed dataset (default: feed.dataset)",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "catalog file to write (default: feed.catalog_file or ./data/offers.json)",
		},
		&cli.StringFlag{
			Name:  "seed",
			Usage: "existing catalog whose priorities are kept (default: the output file)",
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, log, err := setup(ctx)
		if err != nil {
			return err
		}
		client := cfg.FeedClient(log)
		if client == nil {
			return errors.New("feed.url (or FEED_URL) is required to refresh the catalog")
		}
		defer client.Cache.Close()

		dataset := ctx.String("dataset")
		if dataset == "" {
			dataset = cfg.Feed.Dataset
		}
		output := ctx.String("output")
		if output == "" {
			output = cfg.Feed.CatalogFile
		}
		if output == "" {
			output = data.GetDefaultCatalogPath()
		}
		seedPath := ctx.String("seed")
		if seedPath == "" {
			seedPath = output
		}

		var seed []data.CatalogEntry
		if c, err := data.LoadCatalog(seedPath); err == nil {
			seed = c.Offers
			fmt.Printf("Loaded %d existing offers from %s\n", len(seed), seedPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}

		fetched, err := client.FetchOffers(ctx.Context, dataset)
		if err != nil {
			return err
		}

		cat := &data.OfferCatalog{
			Dataset:   dataset,
			UpdatedAt: time.Now().UTC().Format(time.RFC3339),
			Offers:    data.MergeCatalog(seed, fetched),
		}
		if err := data.SaveCatalog(cat, output); err != nil {
			return err
		}
		fmt.Printf("Saved %d offers (%d fetched) to %s\n", len(cat.Offers), len(fetched), output)
		return nil
	},
}

var historyCmd = &cli.Command{
	Name:  "history",
	Usage: "List recorded runs",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Value: 20,
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, log, err := setup(ctx)
		if err != nil {
			return err
		}
		if cfg.Recorder.SQLitePath == "" {
			return errors.New("recorder.sqlite_path (or SQLITE_PATH) is required")
		}
		rec, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath, log)
		if err != nil {
			return err
		}
		defer rec.Close()

		runs, err := rec.RecentRuns(ctx.Context, ctx.Int("limit"))
		if err != nil {
			return err
		}
		fmt.Printf("%-36s %-20s %-28s %-12s %-12s %-12s\n", "id", "started", "path", "assigned", "deficit", "cost")
		for _, r := range runs {
			fmt.Printf("%-36s %-20s %-28s %-12.2f %-12.2f %-12.2f\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Path, r.Assigned, r.Deficit, r.Cost)
		}
		return nil
	},
}

// setup loads the config and applies the global flags.
func setup(ctx *cli.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadUnchecked(ctx.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if v := ctx.String("feed"); v != "" {
		cfg.Feed.File = v
	}
	if v := ctx.String("catalog"); v != "" {
		cfg.Feed.CatalogFile = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := ctx.String("mode"); v != "" {
		cfg.Engine.Mode = v
	}
	if v := ctx.String("linkage"); v != "" {
		cfg.Engine.Linkage = v
	}
	if d := ctx.Duration("time-limit"); d > 0 {
		cfg.Solver.TimeLimit = d
	}
	if ctx.Bool("no-solver") {
		cfg.Solver.Disabled = true
	}

	if err := cfg.Finalize(); err != nil {
		return nil, nil, err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func doAllocate(ctx *cli.Context, mode string) error {
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Engine.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client := cfg.FeedClient(log)
	if client != nil {
		defer client.Cache.Close()
	}
	feed, err := data.Open(ctx.Context, cfg.FeedSource(), client, log)
	if err != nil {
		return err
	}

	out, runErr := engine.New(feed, cfg.ToEngineConfig(), cfg.NewSolver(log), log).Run(ctx.Context)
	if out == nil {
		return runErr
	}

	summary := analysis.Summarize(out.Result)
	if ctx.Bool("record") {
		recordRun(ctx.Context, cfg, log, out, summary, runErr)
	}

	dir := ctx.String("out")
	if dir == "" {
		dir = cfg.Output.Dir
	}
	dir = filepath.Join(dir, out.ID)
	w := report.NewWriter(cfg.Output.Decimals)
	paths, err := w.WriteRunReport(dir, out, summary)
	if err != nil {
		return errors.Join(runErr, err)
	}
	if out.Alternate != nil {
		alt, err := w.WriteRunReport(filepath.Join(dir, "iterative"), &engine.Outcome{ID: out.ID, Result: out.Alternate}, analysis.Summarize(out.Alternate))
		if err != nil {
			return errors.Join(runErr, err)
		}
		paths = append(paths, alt...)
	}

	printOutcome(out, summary)
	fmt.Printf("Wrote %d files to %s\n", len(paths), dir)
	return runErr
}

func recordRun(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, out *engine.Outcome, s *analysis.Summary, runErr error) {
	if cfg.Recorder.SQLitePath == "" {
		log.Warn("--record given but recorder.sqlite_path is not set")
		return
	}
	rec, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath, log)
	if err != nil {
		log.WithError(err).Warn("failed to open run history")
		return
	}
	defer rec.Close()
	if err := rec.RecordRun(ctx, recorder.FromOutcome(out, s, runErr)); err != nil {
		log.WithError(err).Warn("failed to record run")
	}
}

func printOutcome(out *engine.Outcome, s *analysis.Summary) {
	t := s.Totals
	fmt.Printf("Run %s path=%s method=%s\n", out.ID, out.Path, out.Result.Method)
	fmt.Printf("Demand=%.2f Assigned=%.2f Deficit=%.2f (%.2f%%) Cost=%.2f AvgPrice=%.4f\n",
		t.Demand, t.Assigned, t.Deficit, t.DeficitShare, t.Cost, t.AvgPrice)
	if r := out.Result; r.Termination != "" {
		fmt.Printf("Rounds=%d Termination=%s\n", len(r.Rounds), r.Termination)
	}
	if c := out.Comparison; c != nil {
		fmt.Printf("Compare: optimizer cost=%.2f iterative cost=%.2f difference=%.2f\n",
			c.OptimizerCost, c.IterativeCost, c.CostDifference)
		fmt.Printf("         optimizer deficit=%.2f iterative deficit=%.2f\n",
			c.OptimizerDeficit, c.IterativeDeficit)
	}
}
