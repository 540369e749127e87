package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/support-dispatch/internal/deviation"
	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/internal/llm"
	"github.com/spec-kit/support-dispatch/internal/matcher"
)

var detectFlags struct {
	title       string
	description string
	category    string
	rootDir     string
	blueprint   string
	knowledge   string
	useLLM      bool
	top         int
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Dry-run the detection cascade for a ticket text",
	Long: "detect runs the pattern matcher, the deviation detector and the semantic\n" +
		"matcher against the given ticket text and prints what each stage finds.\n" +
		"Nothing is written and no fix is applied.",
	RunE: runDetect,
}

func init() {
	f := detectCmd.Flags()
	f.StringVar(&detectFlags.title, "title", "", "Ticket title (required)")
	f.StringVar(&detectFlags.description, "description", "", "Ticket description")
	f.StringVar(&detectFlags.category, "category", "", "Ticket category")
	f.StringVar(&detectFlags.rootDir, "root", "", "Project root the detector inspects (default: DISPATCH_ROOT_DIR)")
	f.StringVar(&detectFlags.blueprint, "blueprint", "", "Blueprint YAML (default: DISPATCH_BLUEPRINT_PATH)")
	f.StringVar(&detectFlags.knowledge, "knowledge", "", "Knowledge corpus directory (default: DISPATCH_KNOWLEDGE_DIR)")
	f.BoolVar(&detectFlags.useLLM, "llm", false, "Let the LLM pick among ranked items when an API key is configured")
	f.IntVar(&detectFlags.top, "top", 5, "Number of ranked catalog items to print")

	_ = detectCmd.MarkFlagRequired("title")
}

func runDetect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, _, err := loadStore(ctx, detectFlags.blueprint, detectFlags.knowledge)
	if err != nil {
		return err
	}
	rootDir := detectFlags.rootDir
	if rootDir == "" {
		rootDir = cfg.Dispatch.RootDir
	}
	ticket := &domain.Ticket{
		ID:          "dry-run",
		Title:       detectFlags.title,
		Description: detectFlags.description,
		Category:    detectFlags.category,
		Status:      domain.TicketStatusNew,
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "== pattern")
	if c := matcher.NewPatternMatcher().Match(ticket); c != nil {
		printCandidate(cmd, c)
	} else {
		fmt.Fprintln(out, "  no signature matched")
	}

	fmt.Fprintln(out, "== deviations")
	detector := deviation.New(store, logger.Named("deviation"))
	deviations, err := detector.Detect(ctx, ticket, rootDir)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if len(deviations) == 0 {
		fmt.Fprintln(out, "  none")
	}
	for _, d := range deviations {
		fmt.Fprintf(out, "  %s  relevance=%.2f severity=%s\n", d.Item.Key(), d.RelevanceScore, d.Severity)
		fmt.Fprintf(out, "    %s\n", d.Deviation)
		for _, e := range d.Evidence {
			fmt.Fprintf(out, "    - %s\n", e)
		}
	}

	fmt.Fprintln(out, "== semantic")
	var opts []matcher.Option
	if detectFlags.useLLM && cfg.LLM.Enabled() {
		opts = append(opts, matcher.WithLLM(llm.NewClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.Model, cfg.LLM.Timeout(), logger)))
	}
	semantic := matcher.NewSemanticMatcher(store, logger, opts...)
	ranked := semantic.Rank(ticket)
	for i, s := range ranked {
		if i >= detectFlags.top {
			break
		}
		fmt.Fprintf(out, "  %-48s keyword=%d semantic=%.3f\n", s.Item.Key(), s.Keyword, s.Semantic)
	}
	candidate, err := semantic.MatchTicketToConfiguration(ctx, ticket)
	if err != nil {
		return fmt.Errorf("semantic match: %w", err)
	}
	if candidate == nil {
		fmt.Fprintln(out, "  no candidate")
		return nil
	}
	printCandidate(cmd, candidate)
	return nil
}

func printCandidate(cmd *cobra.Command, c *domain.AutopatchCandidate) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  pattern: %s (%s)\n", c.PatternID, c.Source)
	if c.Summary != "" {
		fmt.Fprintf(out, "  summary: %s\n", c.Summary)
	}
	for _, in := range c.AutoFixInstructions {
		fmt.Fprintf(out, "  - %s %s\n", in.Operation, in.Target)
	}
	if len(c.Actions) > 0 {
		types := make([]string, 0, len(c.Actions))
		for _, a := range c.Actions {
			types = append(types, string(a.Type))
		}
		fmt.Fprintf(out, "  actions: %s\n", strings.Join(types, ", "))
	}
}
