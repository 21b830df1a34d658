package web

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
)

func itoa(value int) string {
	return strconv.Itoa(value)
}

func esc(value string) string {
	return templ.EscapeString(value)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02 15:04:05")
}

var prodAssetVersion = func() string {
	startedAt := time.Now().UTC().Format(time.RFC3339)
	sum := sha256.Sum256([]byte(startedAt))
	return hex.EncodeToString(sum[:8])
}()

func assetPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "/static/") {
		return path
	}
	if os.Getenv("ENV") == "prod" {
		return appendAssetVersion(path, prodAssetVersion)
	}
	trimmed := strings.TrimPrefix(path, "/static/")
	data, err := os.ReadFile(filepath.Join("static", trimmed))
	if err != nil {
		return path
	}
	sum := sha256.Sum256(data)
	return appendAssetVersion(path, hex.EncodeToString(sum[:8]))
}

func appendAssetVersion(path string, hash string) string {
	if hash == "" {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&v=" + hash
	}
	return path + "?v=" + hash
}
