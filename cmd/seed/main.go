package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/storage"
)

// defaults are the reference rows the game ships with.
var defaults = map[models.DefKind][]string{
	models.DefMightLevels: {models.MightOrigin, models.MightAdventure, models.MightGreatness},
	models.DefThemeTypes: {
		"Circumstance", "Devotion", "Past", "People", "Personality", "Skill or Trade", "Trait",
		"Duty", "Influence", "Knowledge", "Prodigious Ability", "Relic", "Uncanny Being",
		"Destiny", "Dominion", "Mastery", "Monstrosity",
		models.ThemeTypeFellow,
	},
	models.DefQuintessences: {"Courage", "Wonder", "Kinship", "Wisdom"},
}

func main() {
	dbPath := flag.String("db", "./mistbook.db", "SQLite database path")
	seedFile := flag.String("file", "", "JSON file mapping definition kinds to names (adds to the built-in set)")
	flag.Parse()

	store, err := storage.New(*dbPath, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	defs := defaults
	if *seedFile != "" {
		extra, err := readSeeds(*seedFile)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", *seedFile, err)
		}
		defs = merge(defaults, extra)
	}

	ctx := context.Background()
	for _, kind := range []models.DefKind{models.DefMightLevels, models.DefThemeTypes, models.DefQuintessences} {
		added, err := store.SeedDefs(ctx, kind, defs[kind])
		if err != nil {
			log.Printf("Warning: failed to seed %s: %v", kind, err)
			continue
		}
		log.Printf("Seeded %s: %d added, %d total", kind, added, len(defs[kind]))
	}

	log.Println("Seeding complete")
}

func readSeeds(path string) (map[models.DefKind][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var seeds map[models.DefKind][]string
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, err
	}
	for kind := range seeds {
		if !kind.Valid() {
			log.Printf("Warning: ignoring unknown definition kind %q", kind)
			delete(seeds, kind)
		}
	}
	return seeds, nil
}

func merge(base, extra map[models.DefKind][]string) map[models.DefKind][]string {
	out := make(map[models.DefKind][]string, len(base))
	for kind, names := range base {
		out[kind] = append([]string(nil), names...)
	}
	for kind, names := range extra {
		out[kind] = append(out[kind], names...)
	}
	return out
}
