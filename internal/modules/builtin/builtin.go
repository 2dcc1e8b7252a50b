// Package builtin bundles the built-in capabilities into one plugin.
package builtin

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/modules/filter"
	"github.com/canectors/flow/internal/modules/input"
	"github.com/canectors/flow/internal/modules/output"
	"github.com/canectors/flow/pkg/connector"
)

// Plugin identity
const (
	Name    = "builtin"
	Version = "1.0.0"
)

// Options configures the built-in plugin.
type Options struct {
	// HTTPClient is shared by the HTTP capabilities; nil uses per-config clients
	HTTPClient *http.Client
	// Stdout receives the console loader output; nil means os.Stdout
	Stdout io.Writer
}

// Plugin exposes every built-in extractor, transformer and loader.
type Plugin struct {
	extractors   []connector.Extractor
	transformers []connector.Transformer
	loaders      []connector.Loader
	sqlite       *output.SQLite
}

// New builds the built-in plugin.
func New(opts Options) *Plugin {
	sqlite := output.NewSQLite()
	return &Plugin{
		extractors: []connector.Extractor{
			input.NewStatic(),
			input.NewFile(),
			input.NewHTTP(opts.HTTPClient),
		},
		transformers: []connector.Transformer{
			filter.NewCondition(),
			filter.NewMapping(),
			filter.NewScript(),
			filter.NewSet(),
			filter.NewRemove(),
			filter.NewJoin(),
			filter.NewEnrichment(opts.HTTPClient),
		},
		loaders: []connector.Loader{
			output.NewConsole(opts.Stdout),
			output.NewFile(),
			sqlite,
			output.NewHTTP(opts.HTTPClient),
		},
		sqlite: sqlite,
	}
}

func (*Plugin) Name() string    { return Name }
func (*Plugin) Version() string { return Version }

func (p *Plugin) Initialize(ctx context.Context) error {
	logger.Debug("builtin plugin initialized",
		slog.Int("extractors", len(p.extractors)),
		slog.Int("transformers", len(p.transformers)),
		slog.Int("loaders", len(p.loaders)),
	)
	return ctx.Err()
}

// Cleanup closes the databases opened by the sqlite loader.
func (p *Plugin) Cleanup(context.Context) error {
	return p.sqlite.Close()
}

func (p *Plugin) Extractors() []connector.Extractor     { return p.extractors }
func (p *Plugin) Transformers() []connector.Transformer { return p.transformers }
func (p *Plugin) Loaders() []connector.Loader           { return p.loaders }
