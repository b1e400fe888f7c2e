// Package config loads run configuration from an optional YAML file
// with environment overrides, with defaults suited to fine-tuning on a
// pretrained encoder.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full configuration of a training run.
type Config struct {
	Seed int64 `mapstructure:"seed"`

	Data       DataConfig       `mapstructure:"data"`
	Tokenizer  TokenizerConfig  `mapstructure:"tokenizer"`
	Model      ModelConfig      `mapstructure:"model"`
	Training   TrainingConfig   `mapstructure:"training"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Output     OutputConfig     `mapstructure:"output"`
}

type DataConfig struct {
	CSVPath       string  `mapstructure:"csv_path"`
	TextColumn    string  `mapstructure:"text_column"`
	TrainFraction float64 `mapstructure:"train_fraction"`
}

type TokenizerConfig struct {
	VocabPath string `mapstructure:"vocab_path"`
	SeqLen    int    `mapstructure:"seq_len"`
}

type ModelConfig struct {
	HiddenSize int     `mapstructure:"hidden_size"`
	Dropout    float64 `mapstructure:"dropout"`
	// Pretrained points at a checkpoint whose encoder weights seed the
	// run. Empty means train from random initialization.
	Pretrained string `mapstructure:"pretrained"`
}

type TrainingConfig struct {
	Epochs       int     `mapstructure:"epochs"`
	BatchSize    int     `mapstructure:"batch_size"`
	LearningRate float64 `mapstructure:"learning_rate"`
	WeightDecay  float64 `mapstructure:"weight_decay"`
	Replicas     int     `mapstructure:"replicas"`
}

type EvaluationConfig struct {
	BatchSize int     `mapstructure:"batch_size"`
	Threshold float64 `mapstructure:"threshold"`
}

type OutputConfig struct {
	CheckpointPath string `mapstructure:"checkpoint_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("seed", 42)

	v.SetDefault("data.text_column", "text")
	v.SetDefault("data.train_fraction", 0.8)

	v.SetDefault("tokenizer.seq_len", 128)

	v.SetDefault("model.hidden_size", 128)
	v.SetDefault("model.dropout", 0.1)

	v.SetDefault("training.epochs", 4)
	v.SetDefault("training.batch_size", 8)
	v.SetDefault("training.learning_rate", 2e-5)
	v.SetDefault("training.weight_decay", 0.01)
	v.SetDefault("training.replicas", 1)

	v.SetDefault("evaluation.batch_size", 16)
	v.SetDefault("evaluation.threshold", 0.5)

	v.SetDefault("output.checkpoint_path", "model.json")
}

// Load reads configuration from the given YAML file (optional; pass ""
// to use defaults) and from PIILABEL_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PIILABEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %v", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges on every numeric setting.
func (c *Config) Validate() error {
	if c.Data.TrainFraction <= 0 || c.Data.TrainFraction >= 1 {
		return fmt.Errorf("data.train_fraction must be in (0, 1), got %v", c.Data.TrainFraction)
	}
	if c.Data.TextColumn == "" {
		return fmt.Errorf("data.text_column must not be empty")
	}
	if c.Tokenizer.SeqLen <= 0 {
		return fmt.Errorf("tokenizer.seq_len must be positive, got %d", c.Tokenizer.SeqLen)
	}
	if c.Model.HiddenSize <= 0 {
		return fmt.Errorf("model.hidden_size must be positive, got %d", c.Model.HiddenSize)
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		return fmt.Errorf("model.dropout must be in [0, 1), got %v", c.Model.Dropout)
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("training.epochs must be positive, got %d", c.Training.Epochs)
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("training.batch_size must be positive, got %d", c.Training.BatchSize)
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("training.learning_rate must be positive, got %v", c.Training.LearningRate)
	}
	if c.Training.WeightDecay < 0 {
		return fmt.Errorf("training.weight_decay must be non-negative, got %v", c.Training.WeightDecay)
	}
	if c.Training.Replicas < 1 {
		return fmt.Errorf("training.replicas must be at least 1, got %d", c.Training.Replicas)
	}
	if c.Evaluation.BatchSize <= 0 {
		return fmt.Errorf("evaluation.batch_size must be positive, got %d", c.Evaluation.BatchSize)
	}
	if c.Evaluation.Threshold <= 0 || c.Evaluation.Threshold >= 1 {
		return fmt.Errorf("evaluation.threshold must be in (0, 1), got %v", c.Evaluation.Threshold)
	}
	return nil
}
