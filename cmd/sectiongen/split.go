package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/dgallion1/sectiongen/internal/doctree"
	"github.com/dgallion1/sectiongen/internal/prompt"
	"github.com/dgallion1/sectiongen/internal/splitter"
)

var splitCmd = &cobra.Command{
	Use:   "split <document>",
	Short: "Show the sections a document splits into, without generating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{"leaf-level": "document.leaf_level"})
		if err != nil {
			return err
		}
		if err := cfg.ValidateLocal(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := checkDocument(args[0]); err != nil {
			return err
		}
		sections, err := splitter.New(cfg.Document.LeafLevel).Split(args[0])
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeSectionsJSON(cmd.OutOrStdout(), sections)
		}
		if len(sections) == 0 {
			return fmt.Errorf("no level-%d headings found in %s", cfg.Document.LeafLevel, args[0])
		}
		return writeSectionsTable(cmd.OutOrStdout(), sections)
	},
}

func init() {
	splitCmd.Flags().Bool("json", false, "print sections as JSON")
	splitCmd.Flags().Int("leaf-level", 0, "heading level that opens a section (overrides document.leaf_level)")

	rootCmd.AddCommand(splitCmd)
}

func writeSectionsJSON(w io.Writer, sections []doctree.Section) error {
	if sections == nil {
		sections = []doctree.Section{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sections)
}

func writeSectionsTable(w io.Writer, sections []doctree.Section) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTITLE\tPATH\tCHARS\t~TOKENS")
	for _, s := range sections {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n",
			s.Index, s.Title, s.HierarchyPath, utf8.RuneCountInString(s.Body), prompt.EstimateTokens(s.Body))
	}
	return tw.Flush()
}
