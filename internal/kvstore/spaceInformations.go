package kvstore

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
)

// getDiskUsageStats reports filesystem-level usage for path.
func getDiskUsageStats(path string) (disk syscall.Statfs_t, err error) {
	err = syscall.Statfs(path, &disk)
	return
}

// calculateDirectorySize sums file sizes under path; used only for the
// informational log line, never for storage decisions.
func calculateDirectorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

// logDiskUsage reports disk usage for the configured storage paths.
// Device/mount-point resolution (sourced from
// google/fscrypt/filesystem) is dropped here: resembl only needs the raw
// statfs numbers, not a human-readable mount label.
func logDiskUsage(log *logrus.Logger, paths []string) error {
	for _, path := range paths {
		disk, err := getDiskUsageStats(path)
		if err != nil {
			return err
		}

		totalSpace := float64(disk.Blocks*uint64(disk.Bsize)) / 1e9
		freeSpace := float64(disk.Bfree*uint64(disk.Bsize)) / 1e9
		usedSpace := totalSpace - freeSpace

		pathSize, err := calculateDirectorySize(path)
		if err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"path":       path,
			"totalGB":    totalSpace,
			"usedGB":     usedSpace,
			"freeGB":     freeSpace,
			"usageByDBGB": float64(pathSize) / 1e9,
		}).Info("storage disk usage")
	}
	return nil
}
