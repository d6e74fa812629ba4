// Package config loads the replichat configuration file.
//
// Configuration is written in CUE and unified with an embedded schema, so
// a file only needs the fields it changes:
//
//	replica: "laptop"
//	store: backend: "bolt"
//	sync: max_rounds: 50
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Config is the decoded configuration.
type Config struct {
	Replica string      `json:"replica"`
	Store   StoreConfig `json:"store"`
	Sync    SyncConfig  `json:"sync"`
	Log     LogConfig   `json:"log"`
}

// StoreConfig selects the change log backend.
type StoreConfig struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

// SyncConfig tunes the sync protocol.
type SyncConfig struct {
	FalsePositiveRate float64 `json:"false_positive_rate"`
	MaxRounds         int     `json:"max_rounds"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `json:"level"`
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Error is a configuration problem, with the CUE position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Parse(nil, "default")
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Field: "file", Message: err.Error()}
	}
	return Parse(data, path)
}

// Parse validates CUE source against the schema and decodes it. filename
// is used in error positions.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def
	if len(data) > 0 {
		file := ctx.CompileBytes(data, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		v = def.Unify(file)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err)
	}
	return &cfg, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Field: "cue", Message: err.Error()}
	}

	first := errs[0]
	field := "cue"
	if path := errors.Path(first); len(path) > 0 {
		field = path[len(path)-1]
	}
	e := &Error{Field: field, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
