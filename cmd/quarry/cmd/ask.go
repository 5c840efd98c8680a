package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/assemble"
	"github.com/quarrylabs/quarry/internal/output"
	"github.com/quarrylabs/quarry/internal/search"
)

// askOptions holds CLI flags for ask.
type askOptions struct {
	query   string
	k       int
	filters string
	showDev bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question answered from the corpus",
		Long: `Retrieve passages relevant to the question, assemble them into a
context block, and generate an answer grounded in that context.

The generator backend comes from answer.generator in the configuration.
The default "stub" backend works offline and echoes the retrieved
context; configure "ollama" or "openai" for real generation.`,
		Example: `  quarry ask "When do groupers spawn?"
  quarry ask --q "What threatens reef sharks?" -k 8
  quarry ask "Why is the water cloudy?" --show-dev`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := resolveQuery(args, opts.query, "")
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), cmd, question, opts)
		},
	}

	cmd.Flags().StringVar(&opts.query, "q", "", "Question text (alternative to positional arguments)")
	cmd.Flags().IntVarP(&opts.k, "k", "k", 0, "Number of passages in the context (default from config)")
	cmd.Flags().StringVar(&opts.filters, "filters", "", "Metadata filter as JSON, e.g. '{\"category\": \"BIOLOGY\"}'")
	cmd.Flags().BoolVar(&opts.showDev, "show-dev", false, "Show generator diagnostics (prompt, context, limits)")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, question string, opts askOptions) error {
	root, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	cleanup := setupCommandLogging(cfg)
	defer cleanup()

	slog.Info("ask_started", slog.String("question", question), slog.Int("k", opts.k))

	components, err := openEngine(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = components.Close() }()

	assembler, err := assemble.New(components.engine, assemblerConfig(cfg))
	if err != nil {
		return err
	}

	gcfg, err := generatorConfig(cfg)
	if err != nil {
		return err
	}
	generator, err := answer.NewGenerator(gcfg)
	if err != nil {
		return err
	}
	answerer, err := answer.NewAnswerer(generator, answer.WithLimits(answerLimits(cfg)))
	if err != nil {
		return err
	}

	searchOpts := search.Options{}
	if opts.filters != "" {
		filter, err := parseFilterFlag(opts.filters)
		if err != nil {
			return err
		}
		searchOpts.Filter = filter
	}

	assembled, err := assembler.Build(ctx, question, opts.k, searchOpts)
	if err != nil {
		return err
	}

	resp := answerer.Answer(ctx, question, assembled.ContextText)

	out := output.New(cmd.OutOrStdout())
	out.Markdown(resp.FinalOutput)

	if len(assembled.Refs) > 0 {
		out.Newline()
		out.Header("References")
		for i, ref := range assembled.Refs {
			facts := []string{fmt.Sprintf("score %.4f", ref.Score)}
			if ref.Section != "" {
				facts = append(facts, ref.Section)
			}
			if ref.Category != "" {
				facts = append(facts, ref.Category)
			}
			out.Statusf("", "%d. %s  (%s)", i+1, ref.ID, strings.Join(facts, ", "))
		}
	}

	if opts.showDev && resp.Developer != nil {
		out.Newline()
		out.Header("Developer output")
		dev, err := json.MarshalIndent(resp.Developer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode diagnostics: %w", err)
		}
		out.Code(string(dev))
	}

	return nil
}
