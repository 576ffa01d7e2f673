package compat

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// jsoup is the org.jsoup.Jsoup shim: CSS selection through goquery, XPath
// through htmlquery and cleaning through bluemonday.
type jsoup struct {
	vm   *goja.Runtime
	doc  *goquery.Document
	base *url.URL
}

func (h *Host) jsoupModule(env *Env) (goja.Value, error) {
	vm := env.VM
	m := vm.NewObject()
	m.Set("parse", func(call goja.FunctionCall) goja.Value {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(call.Argument(0).String()))
		if err != nil {
			env.throw(fmt.Errorf("parse html: %w", err))
		}
		j := &jsoup{vm: vm, doc: doc}
		if b := call.Argument(1); !goja.IsUndefined(b) && !goja.IsNull(b) {
			if u, err := url.Parse(b.String()); err == nil {
				j.base = u
			}
		}
		return j.document()
	})
	m.Set("clean", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(clean(call.Argument(0).String(), call.Argument(1)))
	})
	return m, nil
}

// clean sanitises body. The optional safelist is "none" for text only,
// anything else for the user-content policy.
func clean(body string, safelist goja.Value) string {
	policy := bluemonday.UGCPolicy()
	if safelist != nil && !goja.IsUndefined(safelist) && safelist.String() == "none" {
		policy = bluemonday.StrictPolicy()
	}
	return policy.Sanitize(body)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ownText is the text of sel's direct text children only.
func ownText(sel *goquery.Selection) string {
	var sb strings.Builder
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
	}
	return normalizeText(sb.String())
}

func (j *jsoup) absURL(sel *goquery.Selection, attr string) string {
	v, ok := sel.Attr(attr)
	if !ok {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(v))
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if j.base == nil {
		return ""
	}
	return j.base.ResolveReference(ref).String()
}

func (j *jsoup) attr(sel *goquery.Selection, name string) string {
	if abs, ok := strings.CutPrefix(name, "abs:"); ok {
		return j.absURL(sel, abs)
	}
	v, _ := sel.Attr(name)
	return v
}

func (j *jsoup) xpath(nodes []*html.Node, expr string) (*goquery.Selection, error) {
	var found []*html.Node
	for _, n := range nodes {
		res, err := htmlquery.QueryAll(n, expr)
		if err != nil {
			return nil, fmt.Errorf("xpath %q: %w", expr, err)
		}
		found = append(found, res...)
	}
	return j.doc.FindNodes(found...), nil
}

// bindQueries adds the selection methods shared by documents, elements and
// element lists.
func (j *jsoup) bindQueries(o *goja.Object, sel *goquery.Selection) {
	o.Set("select", func(css string) goja.Value { return j.elements(sel.Find(css)) })
	o.Set("selectFirst", func(css string) goja.Value { return j.element(sel.Find(css).First()) })
	o.Set("selectXpath", func(expr string) (goja.Value, error) {
		found, err := j.xpath(sel.Nodes, expr)
		if err != nil {
			return nil, err
		}
		return j.elements(found), nil
	})
	o.Set("text", func() string { return normalizeText(sel.Text()) })
	o.Set("html", func() string {
		out, _ := sel.Html()
		return strings.TrimSpace(out)
	})
	o.Set("outerHtml", func() string {
		out, _ := goquery.OuterHtml(sel)
		return out
	})
	o.Set("attr", func(name string) string { return j.attr(sel, name) })
	o.Set("hasAttr", func(name string) bool {
		_, ok := sel.Attr(strings.TrimPrefix(name, "abs:"))
		return ok
	})
	o.Set("absUrl", func(name string) string { return j.absURL(sel, name) })
}

func (j *jsoup) document() goja.Value {
	o := j.vm.NewObject()
	j.bindQueries(o, j.doc.Selection)
	o.Set("title", func() string { return normalizeText(j.doc.Find("title").First().Text()) })
	o.Set("body", func() goja.Value { return j.element(j.doc.Find("body").First()) })
	o.Set("head", func() goja.Value { return j.element(j.doc.Find("head").First()) })
	o.Set("location", func() string {
		if j.base == nil {
			return ""
		}
		return j.base.String()
	})
	return o
}

func (j *jsoup) element(sel *goquery.Selection) goja.Value {
	if sel == nil || sel.Length() == 0 {
		return goja.Null()
	}
	sel = sel.First()
	o := j.vm.NewObject()
	j.bindQueries(o, sel)
	o.Set("ownText", func() string { return ownText(sel) })
	o.Set("tagName", func() string { return goquery.NodeName(sel) })
	o.Set("id", func() string { return sel.AttrOr("id", "") })
	o.Set("className", func() string { return sel.AttrOr("class", "") })
	o.Set("hasClass", func(name string) bool { return sel.HasClass(name) })
	o.Set("val", func() string { return sel.AttrOr("value", "") })
	o.Set("data", func() string {
		var sb strings.Builder
		for c := sel.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		return sb.String()
	})
	o.Set("parent", func() goja.Value { return j.element(sel.Parent()) })
	o.Set("children", func() goja.Value { return j.elements(sel.Children()) })
	o.Set("nextElementSibling", func() goja.Value { return j.element(sel.Next()) })
	o.Set("previousElementSibling", func() goja.Value { return j.element(sel.Prev()) })
	return o
}

func (j *jsoup) elements(sel *goquery.Selection) goja.Value {
	o := j.vm.NewObject()
	j.bindQueries(o, sel)

	// Elements.text() joins the text of each element with a space.
	o.Set("text", func() string {
		parts := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if t := normalizeText(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		return strings.Join(parts, " ")
	})
	// attr returns the value from the first element that has it.
	o.Set("attr", func(name string) string {
		key := strings.TrimPrefix(name, "abs:")
		for i := range sel.Nodes {
			s := sel.Eq(i)
			if _, ok := s.Attr(key); ok {
				return j.attr(s, name)
			}
		}
		return ""
	})
	o.Set("eachAttr", func(name string) goja.Value {
		key := strings.TrimPrefix(name, "abs:")
		var out []interface{}
		for i := range sel.Nodes {
			s := sel.Eq(i)
			if _, ok := s.Attr(key); ok {
				out = append(out, j.attr(s, name))
			}
		}
		return j.vm.NewArray(out...)
	})
	o.Set("eachText", func() goja.Value {
		var out []interface{}
		sel.Each(func(_ int, s *goquery.Selection) {
			if t := normalizeText(s.Text()); t != "" {
				out = append(out, t)
			}
		})
		return j.vm.NewArray(out...)
	})
	o.Set("length", sel.Length())
	o.Set("size", func() int { return sel.Length() })
	o.Set("isEmpty", func() bool { return sel.Length() == 0 })
	o.Set("get", func(i int) goja.Value { return j.element(sel.Eq(i)) })
	o.Set("first", func() goja.Value { return j.element(sel.First()) })
	o.Set("last", func() goja.Value { return j.element(sel.Last()) })
	o.Set("toArray", func() goja.Value {
		items := make([]interface{}, 0, sel.Length())
		for i := range sel.Nodes {
			items = append(items, j.element(sel.Eq(i)))
		}
		return j.vm.NewArray(items...)
	})
	o.Set("forEach", func(fn goja.Callable) error {
		for i := range sel.Nodes {
			if _, err := fn(goja.Undefined(), j.element(sel.Eq(i)), j.vm.ToValue(i)); err != nil {
				return err
			}
		}
		return nil
	})
	return o
}
