// Package exercise loads the reading catalog from YAML packs and spreadsheets.
package exercise

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/nosubvo/internal/domain"
)

// PackFile represents the YAML structure of pack.yaml
type PackFile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Language    string   `yaml:"language"`
	Difficulty  string   `yaml:"difficulty"` // default for exercises that omit it
	Topic       string   `yaml:"topic"`
	Exercises   []string `yaml:"exercises"`
}

// ExerciseFile represents the YAML structure of one exercise
type ExerciseFile struct {
	Title      string            `yaml:"title"`
	Text       string            `yaml:"text"`
	Language   string            `yaml:"language"`
	Difficulty string            `yaml:"difficulty"`
	Topic      string            `yaml:"topic"`
	Questions  []domain.Question `yaml:"questions"`
}

// Pack is a loaded exercise pack
type Pack struct {
	ID          string
	Name        string
	Version     string
	Description string
	Language    string
	Exercises   []*domain.Exercise
}

// Loader handles loading exercise packs from a directory tree
type Loader struct {
	basePath string
}

// NewLoader creates a new exercise loader
func NewLoader(basePath string) *Loader {
	return &Loader{basePath: basePath}
}

// BasePath returns the directory packs are read from
func (l *Loader) BasePath() string {
	return l.basePath
}

// LoadPack loads basePath/packID/pack.yaml and every exercise it lists
func (l *Loader) LoadPack(packID string) (*Pack, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, packID, "pack.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read pack file: %w", err)
	}

	var pf PackFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pack file: %w", err)
	}
	if pf.ID == "" {
		pf.ID = packID
	}

	pack := &Pack{
		ID:          pf.ID,
		Name:        pf.Name,
		Version:     pf.Version,
		Description: pf.Description,
		Language:    pf.Language,
		Exercises:   make([]*domain.Exercise, 0, len(pf.Exercises)),
	}

	for _, slug := range pf.Exercises {
		ex, err := l.LoadExercise(packID, slug, &pf)
		if err != nil {
			return nil, fmt.Errorf("load exercise %s/%s: %w", packID, slug, err)
		}
		pack.Exercises = append(pack.Exercises, ex)
	}

	return pack, nil
}

// LoadExercise loads basePath/packID/slug.yaml. Language, difficulty and
// topic fall back to the pack's values, then to the catalog defaults.
func (l *Loader) LoadExercise(packID, slug string, pf *PackFile) (*domain.Exercise, error) {
	if slug == "" || strings.Contains(slug, "..") {
		return nil, fmt.Errorf("invalid exercise slug: %q", slug)
	}

	data, err := os.ReadFile(filepath.Join(l.basePath, packID, slug+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("read exercise file: %w", err)
	}

	var ef ExerciseFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("parse exercise file: %w", err)
	}

	if pf == nil {
		pf = &PackFile{}
	}
	ex := &domain.Exercise{
		Title:     strings.TrimSpace(ef.Title),
		Text:      strings.TrimSpace(ef.Text),
		Language:  firstNonEmpty(ef.Language, pf.Language),
		Topic:     firstNonEmpty(ef.Topic, pf.Topic),
		Questions: ef.Questions,
	}

	if d := firstNonEmpty(ef.Difficulty, pf.Difficulty); d != "" {
		ex.Difficulty, err = domain.ParseDifficulty(d)
		if err != nil {
			return nil, err
		}
	}

	ex.ApplyDefaults()
	if err := ex.Validate(); err != nil {
		return nil, err
	}
	return ex, nil
}

// LoadAllPacks loads every subdirectory of basePath that holds a pack.yaml
func (l *Loader) LoadAllPacks() ([]*Pack, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("read exercises directory: %w", err)
	}

	var packs []*Pack
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		packPath := filepath.Join(l.basePath, entry.Name(), "pack.yaml")
		if _, err := os.Stat(packPath); errors.Is(err, os.ErrNotExist) {
			continue
		}

		pack, err := l.LoadPack(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("load pack %s: %w", entry.Name(), err)
		}
		packs = append(packs, pack)
	}

	return packs, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
