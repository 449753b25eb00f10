package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mikeusry/southland-platform-sub000/internal/engine"
	"github.com/mikeusry/southland-platform-sub000/internal/extract"
	"github.com/mikeusry/southland-platform-sub000/internal/models"
	"github.com/mikeusry/southland-platform-sub000/internal/visitor"
	"github.com/mikeusry/southland-platform-sub000/pkg/kvstore"
)

var (
	replayFile       string
	replayRulesFile  string
	replayMaxSignals int
	replayVisitors   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Score a newline-delimited JSON file of events offline",
	Long: `Run events through the scoring engine on an in-memory store and print one
scoring response per event as JSON lines. Nothing is persisted or forwarded.

Example:
  persona-scorer replay --file events.ndjson --visitors`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		in := cmd.InOrStdin()
		if replayFile != "" && replayFile != "-" {
			f, err := os.Open(replayFile)
			if err != nil {
				return fmt.Errorf("opening events file: %w", err)
			}
			defer f.Close()
			in = f
		}

		opts := replayOptions{
			MaxSignals:   replayMaxSignals,
			DumpVisitors: replayVisitors,
		}
		if replayRulesFile != "" {
			rules, err := extract.LoadRules(replayRulesFile)
			if err != nil {
				return err
			}
			opts.Rules = rules
		}
		return replay(cmd.Context(), in, cmd.OutOrStdout(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "-", "events file, one JSON event per line (- for stdin)")
	replayCmd.Flags().StringVar(&replayRulesFile, "rules", "", "YAML rules override")
	replayCmd.Flags().IntVar(&replayMaxSignals, "max-signals", engine.DefaultMaxSignals, "signal window size per visitor")
	replayCmd.Flags().BoolVar(&replayVisitors, "visitors", false, "print final visitor records after the responses")
	rootCmd.AddCommand(replayCmd)
}

type replayOptions struct {
	MaxSignals   int
	Rules        *extract.Rules
	DumpVisitors bool
}

// maxLineBytes bounds a single event line.
const maxLineBytes = 1 << 20

func replay(ctx context.Context, r io.Reader, w io.Writer, opts replayOptions) error {
	repo := visitor.NewRepository(kvstore.NewMemoryStore(0), zerolog.Nop())
	proc := engine.NewProcessor(engine.ProcessorConfig{
		MaxSignals: opts.MaxSignals,
		Rules:      opts.Rules,
	})
	svc := engine.NewService(proc, repo, engine.ServiceConfig{}, zerolog.Nop())

	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var seen []string
	known := make(map[string]bool)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var evt models.PixelEvent
		if err := json.Unmarshal([]byte(text), &evt); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		resp, err := svc.HandleEvent(ctx, evt)
		if err != nil {
			resp = models.ScoringResponse{VisitorID: evt.AnonymousID, Error: engine.PublicMessage(err)}
		} else if !known[evt.AnonymousID] {
			known[evt.AnonymousID] = true
			seen = append(seen, evt.AnonymousID)
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading events: %w", err)
	}

	if !opts.DumpVisitors {
		return nil
	}
	for _, id := range seen {
		v, err := svc.GetVisitor(ctx, id)
		if err != nil {
			return fmt.Errorf("loading visitor %s: %w", id, err)
		}
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("writing visitor: %w", err)
		}
	}
	return nil
}
