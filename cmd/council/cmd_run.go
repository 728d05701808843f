package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"council/internal/council"
	"council/internal/engine"
	"council/internal/history"
	"council/internal/progress"
	"council/internal/protocol"
	"council/internal/transport"
)

var (
	councilPath string
	backendURL  string
)

// runCmd executes one query against a council
var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Run a query past the council",
	Long: `Submits the query to the execution backend and streams the council
discussion: independent answers first, then the chairman's synthesis.

Example:
  council run --council council.yaml "Should we rewrite it in Rust?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	runCmd.Flags().StringVar(&councilPath, "council", "council.yaml", "path to council definition")
	runCmd.Flags().StringVar(&backendURL, "backend", "", "backend websocket URL (overrides config)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	url := cfg.Backend.URL
	if backendURL != "" {
		url = backendURL
	}
	if url == "" {
		return fmt.Errorf("no backend URL: set backend.url in %s, COUNCIL_BACKEND_URL, or --backend", configPath)
	}

	def, err := council.LoadFile(councilPath)
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.History.Path, cfg.History.Limit, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var smoother progress.Smoother
	hooks := engine.Hooks{
		OnEvent: func(ev protocol.Event) {
			switch e := ev.(type) {
			case protocol.ParticipantResponseEvent:
				fmt.Print(e.Content)
			case protocol.FinalAnswerEvent:
				fmt.Printf("\n\n--- chairman ---\n%s\n", e.Content)
			}
		},
		OnProgress: func(r progress.Report) {
			fmt.Fprintf(os.Stderr, "\r[%3.0f%%] %d tokens", smoother.Tick(r.Percent), r.TotalTokens)
		},
	}

	runner, err := engine.New(engine.Options{
		URL: url,
		Dial: func(ctx context.Context, url string) (engine.Transport, error) {
			dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout())
			defer cancel()
			return transport.Dial(dialCtx, url, logger)
		},
		Recorder: history.NewRecorder(store, logger),
		Policy:   engine.PolicyReject,
		Hooks:    hooks,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := runner.Start(ctx, query, def)
	if err != nil {
		return err
	}
	if err := run.Wait(ctx); err != nil {
		fmt.Fprintln(os.Stderr)
		return err
	}
	fmt.Fprintln(os.Stderr)

	s := run.Session()
	logger.Debug("run settled", zap.String("status", string(s.Status())))

	rep := progress.Compute(s)
	fmt.Printf("\nstatus: %s | participants: %d | tokens: %d | cost: %.4f | elapsed: %s\n",
		s.Status(), def.Size(), rep.TotalTokens, rep.TotalCost, rep.Elapsed.Round(time.Millisecond))
	if rec := run.Record(); rec != nil {
		fmt.Printf("saved to history as %s\n", rec.ID)
	}
	return nil
}
