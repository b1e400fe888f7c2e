package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefaults() {
	cfg, err := Load("")
	s.Require().NoError(err)

	s.Equal(int64(42), cfg.Seed)
	s.Equal("text", cfg.Data.TextColumn)
	s.InDelta(0.8, cfg.Data.TrainFraction, 1e-9)
	s.Equal(128, cfg.Tokenizer.SeqLen)
	s.Equal(4, cfg.Training.Epochs)
	s.Equal(8, cfg.Training.BatchSize)
	s.InDelta(2e-5, cfg.Training.LearningRate, 1e-12)
	s.InDelta(0.01, cfg.Training.WeightDecay, 1e-9)
	s.Equal(1, cfg.Training.Replicas)
	s.Equal(16, cfg.Evaluation.BatchSize)
	s.InDelta(0.5, cfg.Evaluation.Threshold, 1e-9)
	s.Equal("model.json", cfg.Output.CheckpointPath)
}

func (s *ConfigSuite) TestFileOverrides() {
	content := `
seed: 7
data:
  csv_path: samples.csv
  train_fraction: 0.9
training:
  epochs: 2
  replicas: 4
`
	path := filepath.Join(s.T().TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	s.Require().NoError(err)

	s.Equal(int64(7), cfg.Seed)
	s.Equal("samples.csv", cfg.Data.CSVPath)
	s.InDelta(0.9, cfg.Data.TrainFraction, 1e-9)
	s.Equal(2, cfg.Training.Epochs)
	s.Equal(4, cfg.Training.Replicas)

	// Untouched settings keep their defaults.
	s.Equal(8, cfg.Training.BatchSize)
}

func (s *ConfigSuite) TestMissingFile() {
	_, err := Load(filepath.Join(s.T().TempDir(), "nope.yaml"))
	s.Error(err)
}

func (s *ConfigSuite) TestValidation() {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Fraction too high", func(c *Config) { c.Data.TrainFraction = 1 }},
		{"Zero epochs", func(c *Config) { c.Training.Epochs = 0 }},
		{"Zero batch size", func(c *Config) { c.Training.BatchSize = 0 }},
		{"Negative decay", func(c *Config) { c.Training.WeightDecay = -0.1 }},
		{"Zero replicas", func(c *Config) { c.Training.Replicas = 0 }},
		{"Bad threshold", func(c *Config) { c.Evaluation.Threshold = 1 }},
		{"Bad dropout", func(c *Config) { c.Model.Dropout = 1 }},
		{"Empty text column", func(c *Config) { c.Data.TextColumn = "" }},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			cfg, err := Load("")
			s.Require().NoError(err)
			tc.mutate(cfg)
			s.Error(cfg.Validate())
		})
	}
}
