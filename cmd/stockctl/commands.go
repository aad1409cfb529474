package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/utafrali/stockledger/internal/app"
	"github.com/utafrali/stockledger/internal/config"
	"github.com/utafrali/stockledger/internal/importer"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/internal/seed"
	"github.com/utafrali/stockledger/internal/service"
	"github.com/utafrali/stockledger/pkg/logger"
)

// session is what a command runs against.
type session struct {
	svc    *service.StockService
	seeder repository.SeedRepository
	logger *slog.Logger
	close  func() error
}

// opener connects a session.
type opener func(ctx context.Context) (*session, error)

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New("stockctl", cfg.LogLevel)

	res, err := app.OpenResources(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &session{
		svc:    app.NewService(res, cfg, log),
		seeder: res.Seeder,
		logger: log,
		close:  res.Close,
	}, nil
}

func newCLI(out io.Writer, open opener) *cli.App {
	withSession := func(fn func(*cli.Context, *session) error) cli.ActionFunc {
		return func(c *cli.Context) (err error) {
			s, err := open(c.Context)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.close(); cerr != nil && err == nil {
					err = cerr
				}
			}()
			return fn(c, s)
		}
	}
	withService := func(fn func(*cli.Context, *service.StockService) error) cli.ActionFunc {
		return withSession(func(c *cli.Context, s *session) error { return fn(c, s.svc) })
	}

	return &cli.App{
		Name:      "stockctl",
		Usage:     "stock ledger maintenance",
		Writer:    out,
		ErrWriter: out,
		// main maps cli.ExitCoder errors to the process exit code.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "restock from a CSV file with sku, warehouse_code and quantity columns",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "CSV file, - for stdin", Required: true},
				},
				Action: withService(func(c *cli.Context, svc *service.StockService) error {
					return runImport(c, svc, out)
				}),
			},
			{
				Name:  "sync",
				Usage: "recompute the cached stock of one product",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "product", Aliases: []string{"p"}, Usage: "product id", Required: true},
				},
				Action: withService(func(c *cli.Context, svc *service.StockService) error {
					stock, err := svc.SyncProductStock(c.Context, c.String("product"))
					if err != nil {
						return err
					}
					return writeJSON(out, map[string]any{"product_id": c.String("product"), "stock": stock})
				}),
			},
			{
				Name:  "reconcile",
				Usage: "fix every product whose cached stock drifted from its inventory",
				Action: withService(func(c *cli.Context, svc *service.StockService) error {
					n, err := svc.ReconcileStockCache(c.Context)
					if err != nil {
						return err
					}
					return writeJSON(out, map[string]int{"corrected": n})
				}),
			},
			{
				Name:  "expire",
				Usage: "release reservations past their expiry",
				Action: withService(func(c *cli.Context, svc *service.StockService) error {
					n, err := svc.ReleaseExpiredReservations(c.Context)
					if err != nil {
						return err
					}
					return writeJSON(out, map[string]int{"expired": n})
				}),
			},
			{
				Name:  "seed",
				Usage: "create demo warehouses and products and restock them",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "products", Value: seed.DefaultOptions().Products, Usage: "number of products"},
					&cli.Uint64Flag{Name: "seed", Value: seed.DefaultOptions().Seed, Usage: "random seed"},
					&cli.Float64Flag{Name: "empty-ratio", Value: seed.DefaultOptions().EmptyRatio, Usage: "share of products left without stock"},
				},
				Action: withSession(func(c *cli.Context, s *session) error {
					summary, err := seed.Run(c.Context, s.seeder, s.svc, seed.Options{
						Products:   c.Int("products"),
						Seed:       c.Uint64("seed"),
						EmptyRatio: c.Float64("empty-ratio"),
					}, s.logger)
					if err != nil {
						return err
					}
					return writeJSON(out, summary)
				}),
			},
			{
				Name:  "migrate",
				Usage: "apply pending database migrations",
				Action: withService(func(*cli.Context, *service.StockService) error {
					_, err := fmt.Fprintln(out, "migrations up to date")
					return err
				}),
			},
		},
	}
}

func runImport(c *cli.Context, svc *service.StockService, out io.Writer) error {
	var r io.Reader = os.Stdin
	if path := c.String("file"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()
		r = f
	}

	rows, err := importer.DecodeCSV(r)
	if err != nil {
		return err
	}

	result, err := svc.BulkImportStock(c.Context, rows)
	if err != nil {
		return err
	}
	if err := writeJSON(out, result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d rows failed", result.Failed, len(rows)), 2)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
