package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/okian/expertrank/internal/domain/model"
)

// fixture is a seed file. Experts and candidates list the subjects they
// join; subjects are created first.
type fixture struct {
	Subjects   []model.Subject   `yaml:"subjects"`
	Experts    []model.Expert    `yaml:"experts"`
	Candidates []model.Candidate `yaml:"candidates"`
}

func loadFixture(path string) (fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fixture{}, fmt.Errorf("reading fixture: %w", err)
	}
	var f fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fixture{}, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return f, nil
}
