package services

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// SweepUploads deletes regular files under dir last modified before cutoff.
// A missing directory is not an error.
func SweepUploads(dir string, cutoff time.Time) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	removed := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Printf("Error accessing path %s: %v", path, err)
			return nil // keep sweeping the rest
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			log.Printf("Failed to remove stale upload %s: %v", path, err)
			return nil
		}
		removed++
		return nil
	})
	return removed, err
}
