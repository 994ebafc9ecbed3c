package main

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/felixgeelhaar/nosubvo/internal/exercise"
	"github.com/felixgeelhaar/nosubvo/internal/storage/sqlstore"
)

// cmdMigrate applies schema migrations
func cmdMigrate() error {
	ctx := context.Background()
	_, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("Schema is at version %d\n", version)
	return nil
}

// cmdSeed loads YAML exercise packs into the catalog
func cmdSeed(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: nosubvo seed <dir>")
	}

	ctx := context.Background()
	_, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := exercise.NewSeeder(sqlstore.NewUnitOfWork(db), nil).SeedDir(ctx, args[0])
	if err != nil {
		return fmt.Errorf("seed %s: %w", args[0], err)
	}

	fmt.Printf("Inserted %d exercises, skipped %d already present\n", res.Inserted, res.Skipped)
	return nil
}

// cmdImport reads exercises from a spreadsheet
func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	sheet := fs.String("sheet", "", "worksheet name (default: first sheet)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: nosubvo import [-sheet name] <file.xlsx>")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	_, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := exercise.NewSpreadsheetImporter(sqlstore.NewUnitOfWork(db), nil).Import(ctx, f, *sheet)
	if err != nil {
		return fmt.Errorf("import %s: %w", fs.Arg(0), err)
	}

	fmt.Printf("Processed %d rows: %d inserted, %d skipped, %d invalid\n",
		res.Processed, res.Inserted, res.Skipped, len(res.Errors))
	for _, rowErr := range res.Errors {
		fmt.Printf("  %s\n", rowErr.Error())
	}
	return nil
}

// cmdStats prints catalog counts
func cmdStats() error {
	ctx := context.Background()
	_, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := sqlstore.NewUnitOfWork(db).Exercises().Stats(ctx)
	if err != nil {
		return fmt.Errorf("catalog stats: %w", err)
	}

	fmt.Println("Catalog Statistics")
	fmt.Println("==================")
	fmt.Printf("Total Exercises: %d\n", stats.Total)

	printCounts("By Language", stats.ByLanguage, stats.Total)
	printCounts("By Difficulty", stats.ByDifficulty, stats.Total)
	printCounts("By Topic", stats.ByTopic, stats.Total)
	return nil
}

func printCounts(title string, counts map[string]int, total int) {
	if len(counts) == 0 {
		return
	}
	fmt.Printf("\n%s\n", title)
	for _, key := range slices.Sorted(maps.Keys(counts)) {
		share := float64(counts[key]) / float64(max(total, 1))
		fmt.Printf("  %-14s %s %d\n", key, renderProgressBar(share, 20), counts[key])
	}
}
