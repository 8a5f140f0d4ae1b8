package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"visionrelay/internal/model"
	"visionrelay/internal/repository/sqlite"
	"visionrelay/internal/service/storage"

	flag "github.com/spf13/pflag"
)

func main() {
	dbPath := flag.String("db", "data/matches.db", "Database path")
	imagesDir := flag.String("images", "", "Import flushed snapshots from this directory")
	prune := flag.Duration("prune", 0, "Delete matches older than this age (0 keeps everything)")
	flag.Parse()

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	fmt.Printf("✅ Database ready at %s\n", *dbPath)

	matches := sqlite.NewMatchRepository(db)

	if *imagesDir != "" {
		imported, skipped, err := importSnapshots(matches, *imagesDir)
		if err != nil {
			log.Fatalf("Failed to import snapshots: %v", err)
		}
		fmt.Printf("✅ Imported %d snapshots from %s\n", imported, *imagesDir)
		if skipped > 0 {
			fmt.Printf("⚠️  Skipped %d files (invalid name or already imported)\n", skipped)
		}
	}

	if *prune > 0 {
		deleted, err := matches.DeleteOlderThan(time.Now().Add(-*prune))
		if err != nil {
			log.Fatalf("Failed to prune matches: %v", err)
		}
		fmt.Printf("🧹 Pruned %d matches older than %s\n", deleted, *prune)
	}

	stats, err := matches.GetStats()
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}
	fmt.Printf("\n📊 Database Statistics:\n")
	fmt.Printf("   Total matches: %d\n", stats.TotalMatches)
	fmt.Printf("   Total detections: %d\n", stats.TotalDetections)
	printCounts("Per camera", stats.PerCamera)
	printCounts("Per label", stats.LabelCounts)
}

// importSnapshots records every parseable snapshot as a match. The file name
// is the frame id, so importing twice is a no-op.
func importSnapshots(matches *sqlite.MatchRepository, dir string) (int, int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	imported, skipped := 0, 0
	for _, file := range files {
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ".jpg") {
			continue
		}

		info, err := storage.ParseSnapshotFilename(file.Name())
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		m := &model.Match{
			Sequence:   info.Sequence,
			FrameID:    "snapshot:" + file.Name(),
			Camera:     info.Camera,
			CapturedAt: info.Timestamp,
			MatchedAt:  info.Timestamp,
		}
		for _, label := range info.Labels {
			m.Boxes = append(m.Boxes, model.BoundingBox{Label: label})
		}
		if _, err := matches.Insert(m); err != nil {
			skipped++
			continue
		}
		imported++
	}
	return imported, skipped, nil
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("   %s:\n", title)
	for _, k := range keys {
		fmt.Printf("      - %s: %d\n", k, counts[k])
	}
}
