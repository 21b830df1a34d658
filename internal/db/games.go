package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"party-play/internal/game"
)

// LoadGameLibrary reads every *.json game definition under dir and upserts it
// into the games table keyed by title.
func LoadGameLibrary(conn *gorm.DB, dir string) (int, error) {
	if conn == nil {
		return 0, nil
	}
	paths, err := gameFiles(dir)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return loaded, err
		}
		def, err := game.Parse(raw)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		entry := Game{Title: def.Title}
		if err := conn.Where(Game{Title: def.Title}).
			Assign(Game{Definition: datatypes.JSON(raw)}).
			FirstOrCreate(&entry).Error; err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// FindGame loads and decodes a stored definition.
func FindGame(conn *gorm.DB, id string) (*game.Definition, error) {
	if conn == nil {
		return nil, gorm.ErrRecordNotFound
	}
	var entry Game
	if err := conn.First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return game.Parse(entry.Definition)
}

// ListGames returns the id and title of every stored game, by title.
func ListGames(conn *gorm.DB) ([]Game, error) {
	if conn == nil {
		return nil, nil
	}
	var games []Game
	err := conn.Select("id", "title").Order("title asc").Find(&games).Error
	return games, err
}

func gameFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, errors.New("no game definitions found")
	}
	sort.Strings(paths)
	return paths, nil
}
