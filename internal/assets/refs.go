package assets

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
)

// cssURL matches url(...) in inline styles and <style> blocks.
var cssURL = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// References maps asset filenames to the site documents that use them.
type References map[string][]string

// Referenced returns the set of asset names with at least one reference.
func (r References) Referenced() map[string]bool {
	out := make(map[string]bool, len(r))
	for name, docs := range r {
		if len(docs) > 0 {
			out[name] = true
		}
	}
	return out
}

// References parses the site documents and the stylesheet next to them and
// reports which existing assets they reference. Missing documents are
// skipped; a document that cannot be parsed fails the call.
func (s *Store) References(ctx context.Context) (References, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	refs := make(References)
	add := func(doc, raw string) {
		name := assetNameFromURL(raw)
		if name == "" || !known[name] {
			return
		}
		for _, existing := range refs[name] {
			if existing == doc {
				return
			}
		}
		refs[name] = append(refs[name], doc)
	}

	for _, doc := range s.documents {
		data, err := os.ReadFile(filepath.Join(s.layout.Root, doc))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, siteerrors.NewIOError("REFS_READ", "cannot read site document", err).WithPath(doc)
		}

		root, err := html.Parse(strings.NewReader(string(data)))
		if err != nil {
			return nil, siteerrors.NewDecodeError("REFS_PARSE", "cannot parse site document", err).WithPath(doc)
		}
		for _, raw := range extractURLs(root) {
			add(doc, raw)
		}
	}

	// Stylesheets are plain CSS, scanned for url() only.
	if css, err := os.ReadFile(filepath.Join(s.layout.Root, "style.css")); err == nil {
		for _, m := range cssURL.FindAllStringSubmatch(string(css), -1) {
			add("style.css", m[1])
		}
	}

	for name := range refs {
		sort.Strings(refs[name])
	}
	s.logger.Debug(ctx, "Resolved asset references", "referenced", len(refs))
	return refs, nil
}

// extractURLs collects image-bearing attribute values and CSS url() targets.
func extractURLs(n *html.Node) []string {
	var urls []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, attr := range n.Attr {
				switch attr.Key {
				case "src", "poster", "data-src":
					urls = append(urls, attr.Val)
				case "srcset":
					urls = append(urls, splitSrcset(attr.Val)...)
				case "href":
					if n.DataAtom == atom.Link || n.DataAtom == atom.A {
						urls = append(urls, attr.Val)
					}
				case "style":
					for _, m := range cssURL.FindAllStringSubmatch(attr.Val, -1) {
						urls = append(urls, m[1])
					}
				}
			}
			if n.DataAtom == atom.Style {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						for _, m := range cssURL.FindAllStringSubmatch(c.Data, -1) {
							urls = append(urls, m[1])
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return urls
}

func splitSrcset(v string) []string {
	var out []string
	for _, candidate := range strings.Split(v, ",") {
		fields := strings.Fields(candidate)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

// assetNameFromURL reduces a local URL to its final path element. Absolute
// URLs to other hosts never name a local asset.
func assetNameFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "" || u.Host != "" {
		return ""
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
