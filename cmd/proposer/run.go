package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/app"
	"github.com/mohammad-safakhou/proposer/internal/orchestrator"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/internal/render"
)

func runCMD(load func() (*config.Config, error)) *cobra.Command {
	var (
		proposalType  string
		extra         string
		requestFile   string
		maxIterations int
		parallelism   int
		threshold     float64
		outDir        string
		verbose       bool
		writeHTML     bool
	)
	cmd := &cobra.Command{
		Use:   "run [request text]",
		Short: "Generate one proposal and save it as markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-iterations") {
				cfg.Orchestration.MaxIterations = maxIterations
			}
			if cmd.Flags().Changed("parallelism") {
				cfg.Orchestration.ResearchParallelism = parallelism
			}
			if outDir != "" {
				cfg.General.OutputDir = outDir
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Orchestration.AcceptanceThreshold = threshold
				cfg.Orchestration.FlagThreshold = threshold
			}

			text, err := requestText(args, requestFile, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			req := proposal.Request{Text: text, Context: extra}
			if proposalType != "" {
				t, err := proposal.ParseType(proposalType)
				if err != nil {
					return err
				}
				req.Type = t
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.Build(ctx, cfg, app.Options{
				StepLogger: log.New(os.Stderr, "[STEP] ", log.LstdFlags),
				Verbose:    verbose || cfg.General.Debug,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.Orchestrator.Run(ctx, req)
			if res == nil {
				return runErr
			}
			out := cmd.OutOrStdout()
			switch res.Outcome {
			case orchestrator.OutcomeCancelled:
				return fmt.Errorf("run %s cancelled", res.RunID)
			case orchestrator.OutcomeFailed:
				return fmt.Errorf("run %s failed: %w", res.RunID, runErr)
			case orchestrator.OutcomeBudgetExhausted:
				fmt.Fprintf(out, "Iteration budget reached; keeping the best-scoring draft (v%d).\n", res.Draft.Version)
			}
			if res.Score != nil {
				fmt.Fprintln(out, render.Scorecard(*res.Score, res.Iterations, cfg.Orchestration.MaxIterations))
			}

			doc := render.Document{Request: req, Draft: *res.Draft, Score: res.Score, Findings: res.Findings}
			if res.Outline != nil {
				doc.Outline = *res.Outline
			}
			now := time.Now()
			path, err := render.SaveMarkdown(cfg.General.OutputDir, doc, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Proposal saved to %s\n", path)
			if writeHTML {
				page, err := render.HTML(doc)
				if err != nil {
					return err
				}
				htmlPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".html"
				if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
					return fmt.Errorf("write html: %w", err)
				}
				fmt.Fprintf(out, "HTML saved to %s\n", htmlPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&proposalType, "type", "t", "", "proposal type (grant, business, technical, sales, project, research, partnership, general)")
	cmd.Flags().StringVar(&extra, "context", "", "additional context for the writer")
	cmd.Flags().StringVarP(&requestFile, "file", "f", "", "read the request text from a file")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override orchestration.max_iterations")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "override orchestration.research_parallelism")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (overrides general.output_dir)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "override orchestration.acceptance_threshold")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log step payloads")
	cmd.Flags().BoolVar(&writeHTML, "html", false, "also write a sanitized HTML rendering")
	return cmd
}

// requestText takes the request from args, a file, or an interactive prompt.
func requestText(args []string, file string, in io.Reader, out io.Writer) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read request: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	fmt.Fprint(out, "Describe the proposal you need: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if strings.TrimSpace(line) == "" {
		return "", errors.New("request text is required")
	}
	return strings.TrimSpace(line), nil
}
