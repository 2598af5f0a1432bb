package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/markflow/markflow/internal/domain/papers"
)

// blueprintFile is the on-disk shape of the assessment structure.
type blueprintFile struct {
	NumQuestions int `yaml:"num_questions"`
	NumVersions  int `yaml:"num_versions"`
	Pages        []struct {
		Number   int    `yaml:"number"`
		Type     string `yaml:"type"`
		Question int    `yaml:"question,omitempty"`
	} `yaml:"pages"`
	Papers struct {
		Count    int         `yaml:"count"`
		Versions map[int]int `yaml:"versions,omitempty"`
	} `yaml:"papers"`
}

// PaperSet is the validated assessment structure: the blueprint plus the
// paper numbers to produce and their version assignments.
type PaperSet struct {
	Blueprint    *papers.Blueprint
	PaperNumbers []int
	Versions     map[int]int
}

// LoadBlueprint reads and validates the assessment structure file.
func LoadBlueprint(path string) (*PaperSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint file: %w", err)
	}

	var file blueprintFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse blueprint file: %w", err)
	}

	pages := make([]papers.BlueprintPage, 0, len(file.Pages))
	for _, p := range file.Pages {
		pageType, err := papers.ParsePageType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("blueprint page %d: %w", p.Number, err)
		}
		pages = append(pages, papers.BlueprintPage{
			Number:        p.Number,
			Type:          pageType,
			QuestionIndex: p.Question,
		})
	}

	bp, err := papers.NewBlueprint(pages, file.NumQuestions, file.NumVersions)
	if err != nil {
		return nil, fmt.Errorf("invalid blueprint: %w", err)
	}

	if file.Papers.Count < 1 {
		return nil, fmt.Errorf("blueprint names no papers to produce")
	}
	numbers := make([]int, file.Papers.Count)
	for i := range numbers {
		numbers[i] = i + 1
	}
	for paper, version := range file.Papers.Versions {
		if paper < 1 || paper > file.Papers.Count {
			return nil, fmt.Errorf("version assignment for unknown paper %d", paper)
		}
		if version < 1 || version > file.NumVersions {
			return nil, fmt.Errorf("paper %d assigned version %d outside 1..%d",
				paper, version, file.NumVersions)
		}
	}

	return &PaperSet{
		Blueprint:    bp,
		PaperNumbers: numbers,
		Versions:     file.Papers.Versions,
	}, nil
}
