package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileItem is one entry shown by the /ls command.
type FileItem struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// browseDirectory lists visible entries, directories first.
func browseDirectory(path string) ([]FileItem, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	items := make([]FileItem, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		item := FileItem{
			Name:  entry.Name(),
			Path:  filepath.Join(path, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				item.Size = info.Size()
			}
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// describeDirectory renders a listing for the chat pane, capped at limit
// entries.
func describeDirectory(path string, limit int) string {
	path = expandHome(path)
	if path == "" {
		path = defaultBrowsePath()
	}
	items, err := browseDirectory(path)
	if err != nil {
		return fmt.Sprintf("Cannot list %s: %v", path, err)
	}
	var sb strings.Builder
	sb.WriteString(path)
	sb.WriteString(":")
	if len(items) == 0 {
		sb.WriteString(" (empty)")
	}
	for i, item := range items {
		if i == limit {
			fmt.Fprintf(&sb, "\n  … %d more", len(items)-limit)
			break
		}
		if item.IsDir {
			fmt.Fprintf(&sb, "\n  %s/", item.Name)
			continue
		}
		fmt.Fprintf(&sb, "\n  %s  %s", item.Name, formatFileSize(item.Size))
	}
	return sb.String()
}

func defaultBrowsePath() string {
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if rest, ok := strings.CutPrefix(path, "~"); ok && (rest == "" || strings.HasPrefix(rest, "/")) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
