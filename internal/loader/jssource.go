package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/compat"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/source"
)

// jsSource adapts a script object to source.Source. Arguments cross into the
// engine as JSON and results come back the same way, decoded into the typed
// models.
type jsSource struct {
	ext     *Extension
	obj     *goja.Object
	info    source.Info
	methods map[source.Operation]goja.Callable
}

// newJSSource checks obj against the capability surface: name and lang must
// be set and every required operation must be a method.
func newJSSource(e *Extension, obj *goja.Object, class string) (*jsSource, error) {
	name := stringField(obj, "name")
	lang := stringField(obj, "lang")
	if name == "" || lang == "" {
		return nil, exterr.ClassLoad(nil, "%s does not implement source surface %s: name and lang are required", class, source.Version)
	}

	methods := make(map[source.Operation]goja.Callable)
	var missing []string
	for _, sig := range source.Surface {
		if sig.Op == source.OpSourceInfo {
			continue
		}
		if fn, ok := goja.AssertFunction(obj.Get(string(sig.Op))); ok {
			methods[sig.Op] = fn
		} else if sig.Required {
			missing = append(missing, string(sig.Op))
		}
	}
	if len(missing) > 0 {
		return nil, exterr.ClassLoad(nil, "%s does not implement source surface %s: missing %v", class, source.Version, missing)
	}

	versionID := 1
	if v := obj.Get("versionId"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		versionID = int(v.ToInteger())
	}
	id := compat.SourceID(name, lang, versionID)
	if v := obj.Get("id"); v != nil {
		switch n := v.Export().(type) {
		case int64:
			id = n
		case float64:
			id = int64(n)
		}
	}

	var supportsLatest bool
	if v := obj.Get("supportsLatest"); v != nil {
		supportsLatest = v.ToBoolean()
	}

	return &jsSource{
		ext: e,
		obj: obj,
		info: source.Info{
			ID:             id,
			Name:           name,
			Lang:           lang,
			BaseURL:        stringField(obj, "baseUrl"),
			SupportsLatest: supportsLatest,
			VersionID:      versionID,
			Class:          class,
		},
		methods: methods,
	}, nil
}

func stringField(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func (s *jsSource) Info() source.Info {
	return s.info
}

func (s *jsSource) Supports(op source.Operation) bool {
	if op == source.OpSourceInfo {
		return true
	}
	_, ok := s.methods[op]
	return ok
}

func (s *jsSource) PopularManga(ctx context.Context, page int) (*source.MangasPage, error) {
	var out source.MangasPage
	if err := s.call(ctx, source.OpPopularManga, &out, page); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *jsSource) LatestUpdates(ctx context.Context, page int) (*source.MangasPage, error) {
	var out source.MangasPage
	if err := s.call(ctx, source.OpLatestUpdates, &out, page); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *jsSource) SearchManga(ctx context.Context, page int, query string, filters source.FilterList) (*source.MangasPage, error) {
	if filters == nil {
		filters = source.FilterList{}
	}
	var out source.MangasPage
	if err := s.call(ctx, source.OpSearchManga, &out, page, query, filters); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *jsSource) MangaDetails(ctx context.Context, manga source.Manga) (*source.Manga, error) {
	var out source.Manga
	if err := s.call(ctx, source.OpMangaDetails, &out, manga); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *jsSource) ChapterList(ctx context.Context, manga source.Manga) ([]source.Chapter, error) {
	var out []source.Chapter
	if err := s.call(ctx, source.OpChapterList, &out, manga); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *jsSource) PageList(ctx context.Context, chapter source.Chapter) ([]source.Page, error) {
	var out []source.Page
	if err := s.call(ctx, source.OpPageList, &out, chapter); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *jsSource) ImageURL(ctx context.Context, page source.Page) (string, error) {
	var out string
	if err := s.call(ctx, source.OpImageURL, &out, page); err != nil {
		return "", err
	}
	return out, nil
}

func (s *jsSource) FilterList(ctx context.Context) (source.FilterList, error) {
	var out source.FilterList
	if err := s.call(ctx, source.OpFilterList, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *jsSource) Login(ctx context.Context, username, password string) (bool, error) {
	var out bool
	if err := s.call(ctx, source.OpLogin, &out, username, password); err != nil {
		return false, err
	}
	return out, nil
}

func (s *jsSource) call(ctx context.Context, op source.Operation, out interface{}, args ...interface{}) error {
	fn, ok := s.methods[op]
	if !ok {
		return exterr.MethodResolution("source %s does not implement %s", s.info.Name, op)
	}

	start := time.Now()
	err := s.ext.runtime.Call(ctx, func(vm *goja.Runtime) error {
		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			v, err := toJS(vm, a)
			if err != nil {
				return exterr.Marshal(err, "%s argument %d", op, i)
			}
			jsArgs[i] = v
		}
		res, err := fn(s.obj, jsArgs...)
		if err != nil {
			return classify(err)
		}
		if err := fromJS(vm, res, out); err != nil {
			return exterr.Marshal(err, "%s result", op)
		}
		return nil
	})
	if errors.Is(err, errRuntimeClosed) {
		err = exterr.Unknown(err)
	}

	s.ext.logger.Debug("Source call",
		zap.String("source", s.info.Name),
		zap.String("method", string(op)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return err
}

func jsonFunc(vm *goja.Runtime, name string) (goja.Callable, error) {
	fn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get(name))
	if !ok {
		return nil, fmt.Errorf("JSON.%s is not available", name)
	}
	return fn, nil
}

func toJS(vm *goja.Runtime, v interface{}) (goja.Value, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	parse, err := jsonFunc(vm, "parse")
	if err != nil {
		return nil, err
	}
	return parse(goja.Undefined(), vm.ToValue(string(data)))
}

func fromJS(vm *goja.Runtime, v goja.Value, out interface{}) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return errors.New("method returned no value")
	}
	stringify, err := jsonFunc(vm, "stringify")
	if err != nil {
		return err
	}
	js, err := stringify(goja.Undefined(), v)
	if err != nil {
		return err
	}
	if goja.IsUndefined(js) {
		return errors.New("result is not serialisable")
	}
	return sonic.UnmarshalString(js.String(), out)
}

// classify maps a script failure onto the taxonomy. An HttpException with a
// numeric code is an upstream failure; anything else is unknown.
func classify(err error) error {
	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return exterr.Unknown(err)
	}
	if obj, ok := exc.Value().(*goja.Object); ok && stringField(obj, "name") == "HttpException" {
		if v := obj.Get("code"); v != nil {
			switch code := v.Export().(type) {
			case int64:
				return exterr.Upstream(int(code))
			case float64:
				return exterr.Upstream(int(code))
			}
		}
	}
	return exterr.Unknownf("%s", exc.Value().String())
}
