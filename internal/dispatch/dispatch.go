// Package dispatch invokes capability-surface operations on a loaded source.
//
// Method names resolve against a closed table; arguments arrive as raw JSON
// values and are decoded into the typed parameters of each operation. A name
// that is unknown, or that the source does not implement, fails before the
// extension runs.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/source"
)

// Args are the positional arguments of one call, each a JSON value.
type Args []json.RawMessage

type handler func(ctx context.Context, src source.Source, args Args) (interface{}, error)

type operation struct {
	// minArgs..maxArgs positional arguments are accepted.
	minArgs, maxArgs int
	call             handler
}

var operations = map[source.Operation]operation{
	source.OpPopularManga: {1, 1, func(ctx context.Context, src source.Source, args Args) (interface{}, error) {
		var page int
		if err := decode(args, 0, &page); err != nil {
			return nil, err
		}
		return src.PopularManga(ctx, page)
	}},
	source.OpLatestUpdates: {1, 1, func(ctx context.Context, src source.Source, args Args) (interface{}, error) {
		var page int
		if err := decode(args, 0, &page); err != nil {
			return nil, err
		}
		return src.LatestUpdates(ctx, page)
	}},
	source.OpSearchManga: {2, 3, func(ctx context.Context, src source.Source, args Args) (interface{}, error) {
		var (
			page    int
			query   string
			filters source.FilterList
		)
		if err := decode(args, 0, &page); err != nil {
			return nil, err
		}
		if err := decode(args, 1, &query); err != nil {
			return nil, err
		}
		if len(args) > 2 {
			if err := decode(args, 2, &filters); err != nil {
				return nil, err
			}
		}
		return src.SearchManga(ctx, page, query, filters)
	}},
	source.OpMangaDetails: {1, 1, func(ctx context.Context, src source.Source, args Args) (interface{}, error) {
		var manga source.Manga
		if err := decode(args, 0, &manga); err != nil {
			return nil, err
		}
		return src.MangaDetails(ctx, manga)
	}},
	source.OpChapterList: {1, 1, func(ctx context.Context, src source.Source, args Args) (interface{}, error) {
		var manga source.Manga
		if err := decode(args, 0, &manga); err != nil {
			return nil, err
		}
		chapters, err := src.ChapterList(ctx, manga)
		if chapters == nil && err == nil {
			chapters = []source.Chapter{}
		}
		return chapters, err
	}},
	source.OpPageList: {1, 1, func(ctx context.Context, src source.Source, args Args) (interface{}, error) {
		var chapter source.Chapter
		if err := decode(args, 0, &chapter); err != nil {
			return nil, err
		}
		pages, err := src.PageList(ctx, chapter)
		if pages == nil && err == nil {
			pages = []source.Page{}
		}
		return pages, err
	}},
	source.OpImageURL: {1, 1, func(ctx context.Context, src source.Source, args Args) (interface{}, error) {
		var page source.Page
		if err := decode(args, 0, &page); err != nil {
			return nil, err
		}
		return src.ImageURL(ctx, page)
	}},
	source.OpFilterList: {0, 0, func(ctx context.Context, src source.Source, _ Args) (interface{}, error) {
		filters, err := src.FilterList(ctx)
		if filters == nil && err == nil {
			filters = source.FilterList{}
		}
		return filters, err
	}},
	source.OpLogin: {2, 2, func(ctx context.Context, src source.Source, args Args) (interface{}, error) {
		var username, password string
		if err := decode(args, 0, &username); err != nil {
			return nil, err
		}
		if err := decode(args, 1, &password); err != nil {
			return nil, err
		}
		return src.Login(ctx, username, password)
	}},
	source.OpSourceInfo: {0, 0, func(_ context.Context, src source.Source, _ Args) (interface{}, error) {
		return src.Info(), nil
	}},
}

func decode(args Args, i int, v interface{}) error {
	if err := sonic.Unmarshal(args[i], v); err != nil {
		return exterr.Marshal(err, "argument %d", i)
	}
	return nil
}

// Dispatcher invokes operations and serialises their results.
type Dispatcher struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// New creates a dispatcher. logger and metrics may be nil.
func New(logger *logging.Logger, metrics *monitoring.Metrics) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{logger: logger.Named("dispatch"), metrics: metrics}
}

// Resolve checks that method names an operation src implements.
func Resolve(src source.Source, method string) (source.Operation, error) {
	sig, ok := source.Lookup(method)
	if !ok {
		return "", exterr.MethodResolution("unknown method %q", method)
	}
	if !src.Supports(sig.Op) {
		return "", exterr.MethodResolution("source %s does not implement %s", src.Info().Name, method)
	}
	return sig.Op, nil
}

// Invoke calls method on src with args and returns the JSON result.
func (d *Dispatcher) Invoke(ctx context.Context, src source.Source, method string, args Args) ([]byte, error) {
	start := time.Now()
	out, err := d.invoke(ctx, src, method, args)

	label := method
	if _, ok := source.Lookup(method); !ok {
		label = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = string(exterr.KindOf(err))
	}
	if d.metrics != nil {
		d.metrics.RecordInvocation(label, outcome, time.Since(start))
	}
	d.logger.Debug("Invoked method",
		zap.String("method", method),
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(start)),
	)
	return out, err
}

func (d *Dispatcher) invoke(ctx context.Context, src source.Source, method string, args Args) ([]byte, error) {
	op, err := Resolve(src, method)
	if err != nil {
		return nil, err
	}
	entry := operations[op]
	if len(args) < entry.minArgs || len(args) > entry.maxArgs {
		if entry.minArgs == entry.maxArgs {
			return nil, exterr.Marshal(nil, "%s takes %d arguments, got %d", method, entry.minArgs, len(args))
		}
		return nil, exterr.Marshal(nil, "%s takes %d to %d arguments, got %d", method, entry.minArgs, entry.maxArgs, len(args))
	}

	result, err := entry.call(ctx, src, args)
	if err != nil {
		if errors.Is(err, source.ErrUnsupported) {
			return nil, exterr.MethodResolution("source %s does not implement %s", src.Info().Name, method)
		}
		return nil, exterr.Classify(err)
	}

	out, err := sonic.Marshal(result)
	if err != nil {
		return nil, exterr.Marshal(err, "%s result", method)
	}
	return out, nil
}
