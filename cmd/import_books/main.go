// Command import_books seeds the inventory from a YAML catalog.
//
//	books:
//	  - title: Dune
//	    author: Frank Herbert
//	    description: Desert planet.
//	    count: 2
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"library-service/config"
	"library-service/library"
)

type catalog struct {
	Books []library.NewBook `yaml:"books"`
}

func main() {
	var configPath, catalogPath string
	cmd := &cobra.Command{
		Use:          "import_books",
		Short:        "Import books from a YAML catalog",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			books, err := readCatalog(catalogPath)
			if err != nil {
				return err
			}

			db, err := library.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("error opening database: %w", err)
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Importing %d books from %s...\n", len(books), catalogPath)
			ok, failed := importBooks(cmd.Context(), db, books, out)
			fmt.Fprintf(out, "\nImport complete!\n")
			fmt.Fprintf(out, "Successfully imported: %d books\n", ok)
			fmt.Fprintf(out, "Errors: %d\n", failed)
			if failed > 0 {
				return fmt.Errorf("%d books failed to import", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.yaml", "path to YAML book catalog")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func readCatalog(path string) ([]library.NewBook, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("error reading catalog: %w", err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) ([]library.NewBook, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("error parsing catalog: %w", err)
	}
	return c.Books, nil
}

// importBooks adds each book, reporting one line per entry. Invalid entries
// are counted as failures and skipped.
func importBooks(ctx context.Context, db *library.Database, books []library.NewBook, w io.Writer) (ok, failed int) {
	for i, nb := range books {
		nb.Title = strings.TrimSpace(nb.Title)
		nb.Author = strings.TrimSpace(nb.Author)
		fmt.Fprintf(w, "Importing: %s by %s... ", truncateString(nb.Title, 50), truncateString(nb.Author, 30))

		if nb.Title == "" || nb.Author == "" || nb.Count < 0 {
			fmt.Fprintf(w, "ERROR - entry %d needs a title, an author and a non-negative count\n", i+1)
			failed++
			continue
		}

		book, err := db.AddBook(ctx, nb)
		if err != nil {
			fmt.Fprintf(w, "ERROR - %v\n", err)
			failed++
			continue
		}
		fmt.Fprintf(w, "SUCCESS (ID: %d)\n", book.ID)
		ok++
	}
	return ok, failed
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
