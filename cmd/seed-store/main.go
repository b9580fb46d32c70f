package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mfroach/livebind/livestore/config"
	"github.com/mfroach/livebind/livestore/live"
)

// seed-store populates a configured store with sample task data so
// the livestore shell has something to query.

type seedSize struct {
	lists        int
	itemsPerList int
}

func main() {
	configPath := flag.String("config", "livestore.toml", "store configuration file")
	size := flag.String("size", "default", "Seed size: default, medium, or large")
	flag.Parse()

	var s seedSize
	switch *size {
	case "default":
		s = seedSize{lists: 3, itemsPerList: 10}
	case "medium":
		s = seedSize{lists: 20, itemsPerList: 100}
	case "large":
		s = seedSize{lists: 100, itemsPerList: 1000}
	default:
		fmt.Fprintf(os.Stderr, "Unknown size: %s (use 'default', 'medium', or 'large')\n", *size)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	descriptors, err := cfg.Descriptors()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad schema: %v\n", err)
		os.Exit(1)
	}
	session, err := cfg.OpenSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}

	store, err := live.Open(descriptors, session)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fmt.Printf("Seeding store: %s\n", cfg.Store.Path)
	fmt.Printf("  Lists: %d\n", s.lists)
	fmt.Printf("  Items/list: %d\n", s.itemsPerList)
	fmt.Printf("  Total items: %d\n", s.lists*s.itemsPerList)
	fmt.Println()

	err = store.Run(func(tx *live.Transaction) error {
		for l := 0; l < s.lists; l++ {
			listID := fmt.Sprintf("L%04d", l)
			if _, err := tx.Create("List", map[string]any{
				"id":    listID,
				"title": fmt.Sprintf("List %d", l),
			}); err != nil {
				return err
			}
			for i := 0; i < s.itemsPerList; i++ {
				if _, err := tx.Create("Item", map[string]any{
					"id":       fmt.Sprintf("%s-I%05d", listID, i),
					"text":     fmt.Sprintf("Task %d of list %d", i, l),
					"done":     i%3 == 0,
					"priority": int64(i % 5),
					"list":     listID,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to seed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Done! Query the data with:")
	fmt.Printf("   livestore -config %s -query 'Item where done == false sort priority desc'\n", *configPath)
}
