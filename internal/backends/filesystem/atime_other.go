//go:build !linux && !darwin

// ABOUTME: Fallback when the platform exposes no portable access time.
// ABOUTME: get_file_info reports "Unknown".

package filesystem

import (
	"io/fs"
	"time"
)

func accessTime(fs.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
