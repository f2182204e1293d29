package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/loqalabs/mockchat/internal/chat"
	"github.com/loqalabs/mockchat/internal/config"
)

var version = "0.1.0-dev"

type askFlags struct {
	prompt     string
	model      string
	webSearch  bool
	configPath string
	instant    bool
}

func main() {
	var ask askFlags
	askCmd := flag.NewFlagSet("ask", flag.ExitOnError)
	askCmd.StringVar(&ask.prompt, "prompt", "", "Prompt to send (defaults to remaining arguments)")
	askCmd.StringVar(&ask.model, "model", "", "Model name to report")
	askCmd.BoolVar(&ask.webSearch, "web-search", false, "Attach simulated sources")
	askCmd.StringVar(&ask.configPath, "config", "", "Optional configuration file")
	askCmd.BoolVar(&ask.instant, "instant", false, "Disable simulated delays")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'ask' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "ask":
		askCmd.Parse(os.Args[2:])
		if ask.prompt == "" {
			ask.prompt = strings.Join(askCmd.Args(), " ")
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err := runAsk(ctx, ask, os.Stdout)
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runAsk(ctx context.Context, flags askFlags, out io.Writer) error {
	if strings.TrimSpace(flags.prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	opts := chat.OptionsFromConfig(cfg.Chat)
	if flags.instant {
		opts.Latency = chat.Range{}
		opts.ReasoningPause = 0
		opts.SourcesPause = 0
		opts.TokenDelay = chat.Range{}
	}
	model := flags.model
	if model == "" {
		model = cfg.Chat.DefaultModel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	generator := chat.NewGenerator(opts, logger)
	req := chat.Request{
		Messages: []chat.Message{{
			ID:      uuid.NewString(),
			Role:    chat.RoleUser,
			Content: flags.prompt,
		}},
		Model:     model,
		WebSearch: flags.webSearch,
	}

	printer := &streamPrinter{out: out}
	if err := generator.Stream(ctx, req, printer.print); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}

// streamPrinter writes chunks as they arrive. Content snapshots are
// cumulative, so only the unseen suffix is written.
type streamPrinter struct {
	out     io.Writer
	written int
}

func (p *streamPrinter) print(chunk chat.Chunk) error {
	var err error
	switch chunk.Kind {
	case chat.ChunkReasoning:
		_, err = fmt.Fprintf(p.out, "[reasoning] %s\n\n", chunk.Reasoning)
	case chat.ChunkSources:
		for i, src := range chunk.Sources {
			if _, err = fmt.Fprintf(p.out, "[%d] %s <%s>\n", i+1, src.Title, src.URL); err != nil {
				return err
			}
		}
		_, err = fmt.Fprintln(p.out)
	case chat.ChunkContent:
		text := chunk.Message.Content
		if p.written > len(text) {
			p.written = 0
		}
		_, err = io.WriteString(p.out, text[p.written:])
		p.written = len(text)
	}
	return err
}
