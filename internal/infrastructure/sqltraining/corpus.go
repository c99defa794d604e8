// Package sqltraining ships the schema notes and example queries that prime the text-to-SQL tool.
package sqltraining

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

//go:embed corpus.yaml
var corpusYAML []byte

type corpusFile struct {
	Snippets []domain.TrainingSnippet `yaml:"snippets"`
}

// Load returns the built-in corpus.
func Load() ([]domain.TrainingSnippet, error) {
	return Parse(corpusYAML)
}

func Parse(data []byte) ([]domain.TrainingSnippet, error) {
	var file corpusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode training corpus: %w", err)
	}
	for i, snippet := range file.Snippets {
		switch snippet.Kind {
		case domain.TrainingDDL, domain.TrainingDocumentation, domain.TrainingSQLExample:
		default:
			return nil, fmt.Errorf("training snippet %d: unknown kind %q", i, snippet.Kind)
		}
		if snippet.Text == "" {
			return nil, fmt.Errorf("training snippet %d: empty text", i)
		}
	}
	return file.Snippets, nil
}
