package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/aptpay/defi-engine/internal/config"
	"github.com/aptpay/defi-engine/internal/engine"
	"github.com/aptpay/defi-engine/internal/model"
	"github.com/aptpay/defi-engine/internal/position"
	"github.com/aptpay/defi-engine/internal/store"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted session against the default market",
	Long: `Run a fixed sequence of commands and print each outcome.

The session:
  1. Opens a 5x LONG on APT and closes it after a 10% rally
  2. Rests a BTC limit buy and crosses it with a price override
  3. Seeds an APT/USDC pool and swaps through it
  4. Buys an ETH put, drops the price and closes the hedge
  5. Prints the portfolio and the journal

Example:
  defi-engine demo --seed 7`,
	RunE: runDemo,
}

var (
	demoSeed    int64
	demoVerbose bool
)

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().Int64Var(&demoSeed, "seed", 1, "feed random seed")
	demoCmd.Flags().BoolVarP(&demoVerbose, "verbose", "v", false, "write engine logs to stderr")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var logOut io.Writer = io.Discard
	if demoVerbose {
		logOut = os.Stderr
	}
	journal := store.NewMemoryJournal()
	eng, err := engine.New(cfg.EngineConfig(),
		engine.WithLogger(slog.New(slog.NewTextHandler(logOut, nil))),
		engine.WithRand(rand.New(rand.NewSource(demoSeed))),
		engine.WithJournal(journal),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	s := &session{ctx: cmd.Context(), eng: eng, out: cmd.OutOrStdout()}
	s.run()

	s.section("Portfolio")
	s.printJSON(eng.Portfolio(s.ctx))

	entries, err := journal.List(s.ctx, store.Filter{})
	if err != nil {
		return err
	}
	s.section("Journal")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(s.out, "  %-18s ref=%-3d %-9s value=%s\n", e.Kind, e.RefID, e.Symbol, e.Value.StringFixed(2))
	}
	return nil
}

type session struct {
	ctx context.Context
	eng *engine.Engine
	out io.Writer
}

func (s *session) section(title string) {
	fmt.Fprintf(s.out, "\n== %s ==\n", title)
}

func (s *session) report(step string, res engine.Result) {
	mark := "ok"
	if !res.Success {
		mark = string(res.ErrorKind)
	}
	fmt.Fprintf(s.out, "  [%s] %s: %s\n", mark, step, res.Message)
}

func (s *session) printJSON(v any) {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("  ", "  ")
	enc.Encode(v)
}

// bump moves symbol by pct percent through a price override.
func (s *session) bump(symbol string, pct int64) {
	q, err := s.eng.Quote(symbol)
	if err != nil {
		s.report("quote "+symbol, engine.ResultOf(err))
		return
	}
	price := q.Price.Mul(decimal.NewFromInt(100 + pct)).Div(model.Hundred).Round(model.PriceScale)
	_, err = s.eng.SetPrice(s.ctx, symbol, price)
	s.report(fmt.Sprintf("set %s %+d%% to %s", symbol, pct, price), engine.ResultOf(err))
}

func (s *session) run() {
	quote := s.eng.QuoteAsset()

	s.section("Quotes")
	for _, q := range s.eng.Quotes() {
		fmt.Fprintf(s.out, "  %-5s %s %s\n", q.Symbol, q.Price, quote)
	}

	s.section("Leveraged position")
	opened, err := s.eng.OpenPosition(s.ctx, position.OpenRequest{
		Symbol: "APT", Side: model.Long, Size: decimal.NewFromInt(100), Leverage: decimal.NewFromInt(5),
	})
	s.report("open", resultOf(opened.Result, err))
	s.bump("APT", 10)
	if err == nil {
		closed, err := s.eng.ClosePosition(s.ctx, opened.Position.ID)
		s.report("close", resultOf(closed.Result, err))
		_, err = s.eng.ClosePosition(s.ctx, opened.Position.ID)
		s.report("close again", engine.ResultOf(err))
	}

	s.section("Limit order")
	btc, err := s.eng.Quote("BTC")
	if err == nil {
		limit := btc.Price.Mul(decimal.RequireFromString("0.98")).Round(2)
		placed, err := s.eng.PlaceLimitOrder(s.ctx, "BTC", decimal.RequireFromString("0.01"), limit, model.Buy)
		s.report("place", resultOf(placed.Result, err))
		s.bump("BTC", -3)
		if err == nil {
			matched, err := s.eng.MatchCheck(s.ctx, placed.Order.ID)
			s.report("match", resultOf(matched.Result, err))
		}
	}

	s.section("Liquidity pool")
	apt, err := s.eng.Quote("APT")
	if err == nil {
		pool, err := s.eng.CreatePool(s.ctx, "APT", quote, decimal.NewFromInt(100), apt.Price.Mul(decimal.NewFromInt(100)))
		s.report("create", resultOf(pool.Result, err))
		swap, err := s.eng.Swap(s.ctx, "APT", quote, decimal.NewFromInt(10))
		s.report("swap", resultOf(swap.Result, err))
	}

	s.section("Hedge")
	eth, err := s.eng.Quote("ETH")
	if err == nil {
		h, err := s.eng.OpenHedge(s.ctx, engine.HedgeRequest{
			Underlying:  "ETH",
			Kind:        model.Put,
			Amount:      decimal.NewFromInt(1),
			StrikePrice: eth.Price.Round(0),
			Expiry:      s.eng.Now().AddDate(0, 0, 30),
		})
		s.report("open", resultOf(h.Result, err))
		s.bump("ETH", -10)
		if err == nil {
			closed, err := s.eng.CloseHedge(s.ctx, h.Hedge.ID)
			s.report("close", resultOf(closed.Result, err))
		}
	}
}

// resultOf prefers the receipt summary when the command succeeded.
func resultOf(summary func() engine.Result, err error) engine.Result {
	if err != nil {
		return engine.ResultOf(err)
	}
	return summary()
}
