package synthesis

import (
	"strings"
	"time"
)

// Response status values written by the worker.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is the JSON document handed to the worker. The worker reads it
// once and writes exactly one Response under the same ID.
type Request struct {
	ID           string `json:"-"`
	Text         string `json:"text"`
	Language     string `json:"language"`
	Speaker      string `json:"speaker"`
	Instruct     string `json:"instruct"`
	MaxNewTokens int    `json:"max_new_tokens"`
	OutputPath   string `json:"output_path"`
}

// Response is the worker's answer to one Request.
type Response struct {
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
	OutputPath     string  `json:"output_path,omitempty"`
	SampleRate     int     `json:"sample_rate,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	GenerationTime float64 `json:"generation_time,omitempty"`
}

// Voice selects how text is spoken. Zero fields fall back to the channel
// defaults.
type Voice struct {
	Language     string
	Speaker      string
	Instruct     string
	MaxNewTokens int
}

func (v Voice) withDefaults(defaults Voice) Voice {
	if strings.TrimSpace(v.Language) == "" {
		v.Language = defaults.Language
	}
	if strings.TrimSpace(v.Speaker) == "" {
		v.Speaker = defaults.Speaker
	}
	if strings.TrimSpace(v.Instruct) == "" {
		v.Instruct = defaults.Instruct
	}
	if v.MaxNewTokens <= 0 {
		v.MaxNewTokens = defaults.MaxNewTokens
	}
	return v
}

// Result describes a finished synthesis call.
type Result struct {
	RequestID      string
	OutputPath     string
	Duration       float64
	GenerationTime float64
	Elapsed        time.Duration
	// Skipped is set when the text was blank and no request was sent.
	Skipped bool
}
