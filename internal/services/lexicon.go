package services

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/somnari/somnari-backend/internal/logger"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

type LexiconBucket struct {
	Label string   `yaml:"label"`
	Terms []string `yaml:"terms"`
}

// Lexicon drives the heuristic base synthesis: emotion buckets, theme
// seeds and stopwords. The embedded default can be swapped out with
// LEXICON_PATH for tuning without a rebuild.
type Lexicon struct {
	DefaultFeeling string          `yaml:"default_feeling"`
	Stopwords      []string        `yaml:"stopwords"`
	Emotions       []LexiconBucket `yaml:"emotions"`
	Themes         []LexiconBucket `yaml:"themes"`

	stopset map[string]bool
}

func LoadLexicon(log *logger.Logger) (*Lexicon, error) {
	raw := defaultLexiconYAML
	if path := strings.TrimSpace(os.Getenv("LEXICON_PATH")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read lexicon %s: %w", path, err)
		}
		log.Info("Loaded lexicon override", "path", path)
		raw = b
	}

	var lex Lexicon
	if err := yaml.Unmarshal(raw, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if len(lex.Emotions) == 0 || len(lex.Themes) == 0 {
		return nil, fmt.Errorf("lexicon needs at least one emotion and one theme bucket")
	}
	if lex.DefaultFeeling == "" {
		lex.DefaultFeeling = "neutral"
	}
	lex.stopset = make(map[string]bool, len(lex.Stopwords))
	for _, w := range lex.Stopwords {
		lex.stopset[strings.ToLower(w)] = true
	}
	return &lex, nil
}

func (l *Lexicon) IsStopword(token string) bool {
	return l.stopset[token]
}
