package main

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/utilitywarehouse/github-proxy/internal/utils"
	"github.com/utilitywarehouse/github-proxy/repository"
)

// cleanupOrphanedDirs deletes entries of the root dir which are not working
// copies managed by the proxy. root might be shared if it's set in config so
// clean up only runs for the default root.
func cleanupOrphanedDirs(root string) {
	if root != defaultRoot {
		return
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("unable to read root dir for clean up", "err", err)
		}
		return
	}

	managed := []string{repository.SourceDir, repository.DestinationDir}

	for _, entry := range entries {
		if slices.Contains(managed, entry.Name()) {
			continue
		}

		fullPath := filepath.Join(root, entry.Name())

		logger.Info("removing orphaned dir...", "path", fullPath)
		if err := utils.RemoveAll(fullPath); err != nil {
			logger.Error("unable to remove orphaned dir", "path", fullPath, "err", err)
			continue
		}
	}
}
