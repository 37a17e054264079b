// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package conf

type Level string

const (
	TraceLevel Level = "trace"
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	FatalLevel Level = "fatal"
)

type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// LogConfig is the `log:` block of the service configuration.
type LogConfig struct {
	Core      string    `json:"core" yaml:"core"`
	Level     Level     `json:"level" yaml:"level"`
	Formatter Formatter `json:"formatter" yaml:"formatter"`
	Output    Output    `json:"output" yaml:"output"`

	// File sink settings, used when Output is "file".
	FileName   string `json:"fileName" yaml:"fileName"`
	MaxSize    int    `json:"maxSize" yaml:"maxSize"` // megabytes
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	MaxAge     int    `json:"maxAge" yaml:"maxAge"` // days
	Compress   bool   `json:"compress" yaml:"compress"`
}

func DefaultConfig() *LogConfig {
	return &LogConfig{
		Core:       "logrus",
		Level:      InfoLevel,
		Formatter:  ConsoleFormater,
		Output:     StdoutOutput,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	}
}

func (c *LogConfig) Normalize() {
	if c.Level == "" {
		c.Level = InfoLevel
	}
	if !isValidFormatter(c.Formatter) {
		c.Formatter = ConsoleFormater
	}
	if c.Output == "" {
		c.Output = StdoutOutput
	}
	if c.Output == FileOutput && c.FileName == "" {
		c.Output = StdoutOutput
	}
}
