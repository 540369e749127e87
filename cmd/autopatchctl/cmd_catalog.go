package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

var catalogFlags struct {
	blueprint string
	knowledge string
	typ       string
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List configuration items known to the detector",
	RunE:  runCatalog,
}

func init() {
	f := catalogCmd.Flags()
	f.StringVar(&catalogFlags.blueprint, "blueprint", "", "Blueprint YAML (default: DISPATCH_BLUEPRINT_PATH)")
	f.StringVar(&catalogFlags.knowledge, "knowledge", "", "Knowledge corpus directory (default: DISPATCH_KNOWLEDGE_DIR)")
	f.StringVar(&catalogFlags.typ, "type", "", "Only list items of this configuration type")
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	store, _, err := loadStore(cmd.Context(), catalogFlags.blueprint, catalogFlags.knowledge)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	counts := store.TypeCounts()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	fmt.Fprintf(out, "Items: %d\n", store.Len())
	for _, t := range types {
		fmt.Fprintf(out, "  %-16s %d\n", t, counts[domain.ConfigurationType(t)])
	}
	fmt.Fprintln(out)

	for _, item := range store.Items() {
		if catalogFlags.typ != "" && string(item.Type) != catalogFlags.typ {
			continue
		}
		fmt.Fprintf(out, "%s\n", item.Key())
		if item.Location != "" {
			fmt.Fprintf(out, "  location: %s\n", item.Location)
		}
		if len(item.PotentialIssues) > 0 {
			fmt.Fprintf(out, "  issues:   %d\n", len(item.PotentialIssues))
		}
		if n := len(item.UniversalFixInstructions); n > 0 {
			fmt.Fprintf(out, "  fixes:    %d instruction(s)\n", n)
		}
	}
	return nil
}
