package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/feichai0017/casefolio/internal/app"
	"github.com/feichai0017/casefolio/internal/extract"
	"github.com/feichai0017/casefolio/internal/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Print the facts found in one document, with page and bounding box",
	Long: `Extract decodes a single document and prints the dates, amounts and
names it finds. Nothing is stored and no events are built.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().Bool("pages", false, "print the decoded page text instead of facts")
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	layouts, err := app.NewLayouts(cmd.Context(), log)
	if err != nil {
		return err
	}
	provider, _, err := layouts.ForFile(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := provider.Decode(cmd.Context(), filepath.Base(path), f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	if pages, _ := cmd.Flags().GetBool("pages"); pages {
		return writeJSON(cmd.OutOrStdout(), doc)
	}
	facts := extract.New().Extract(doc.Pages, doc.Name)
	if facts == nil {
		facts = []models.ExtractedFact{}
	}
	return writeJSON(cmd.OutOrStdout(), facts)
}
