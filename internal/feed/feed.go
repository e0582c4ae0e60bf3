// Package feed produces the machine-readable views of the catalog: RSS 2.0,
// the sitemap, and schema.org JSON-LD blocks.
package feed

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/euforicio/blogmd/internal/article"
	"github.com/euforicio/blogmd/internal/config"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

type rssXML struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	PubDate     string   `xml:"pubDate,omitempty"`
	GUID        string   `xml:"guid"`
	Categories  []string `xml:"category"`
}

type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// URL joins the site base URL with an escaped absolute path such as an
// article route. An empty base yields the path unchanged.
func URL(base, p string) string {
	if base == "" {
		return p
	}
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + p
	}
	return u.JoinPath(p).String()
}

// WriteRSS encodes articles (already newest first) as an RSS 2.0 channel.
func WriteRSS(w io.Writer, site config.Site, articles []article.Article) error {
	items := make([]rssItem, 0, len(articles))
	for _, a := range articles {
		pubDate := ""
		if t, err := time.Parse(article.DateLayout, a.Date); err == nil {
			pubDate = t.Format(time.RFC1123Z)
		}
		link := URL(site.URL, a.Route)
		items = append(items, rssItem{
			Title:       a.Title,
			Link:        link,
			Description: a.Description,
			PubDate:     pubDate,
			GUID:        link,
			Categories:  a.Tags,
		})
	}
	doc := rssXML{
		Version: "2.0",
		Channel: rssChannel{
			Title:       site.Name,
			Link:        URL(site.URL, "/"),
			Description: site.Description,
			Items:       items,
		},
	}
	return encodeXML(w, doc)
}

// WriteSitemap encodes the home page, every article and every tag page.
func WriteSitemap(w io.Writer, site config.Site, articles []article.Article, tags []string) error {
	urls := make([]sitemapURL, 0, 1+len(articles)+len(tags))
	home := sitemapURL{Loc: URL(site.URL, "/")}
	if len(articles) > 0 {
		home.LastMod = articles[0].Date
	}
	urls = append(urls, home)
	for _, a := range articles {
		urls = append(urls, sitemapURL{Loc: URL(site.URL, a.Route), LastMod: a.Date})
	}
	for _, tag := range tags {
		urls = append(urls, sitemapURL{Loc: URL(site.URL, TagPath(tag))})
	}
	return encodeXML(w, sitemapURLSet{XMLNS: sitemapNS, URLs: urls})
}

// TagPath is the route of the page listing articles tagged tag.
func TagPath(tag string) string {
	return "/tags/" + url.PathEscape(tag)
}

func encodeXML(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	return nil
}

// WebsiteJSONLD returns a schema.org WebSite block.
func WebsiteJSONLD(site config.Site) string {
	data := map[string]any{
		"@context":    "https://schema.org",
		"@type":       "WebSite",
		"name":        site.Name,
		"url":         URL(site.URL, "/"),
		"description": site.Description,
	}
	if site.Author != "" {
		data["author"] = map[string]string{"@type": "Person", "name": site.Author}
	}
	return marshal(data)
}

// BlogPostingJSONLD returns a schema.org BlogPosting block for a.
func BlogPostingJSONLD(site config.Site, a article.Article) string {
	link := URL(site.URL, a.Route)
	data := map[string]any{
		"@context":      "https://schema.org",
		"@type":         "BlogPosting",
		"headline":      a.Title,
		"description":   a.Description,
		"datePublished": a.Date,
		"url":           link,
		"mainEntityOfPage": map[string]string{
			"@type": "WebPage",
			"@id":   link,
		},
	}
	if site.Author != "" {
		data["author"] = map[string]string{"@type": "Person", "name": site.Author}
	}
	if site.Name != "" {
		data["publisher"] = map[string]string{"@type": "Organization", "name": site.Name}
	}
	if len(a.Tags) > 0 {
		data["keywords"] = strings.Join(a.Tags, ", ")
	}
	return marshal(data)
}

func marshal(data map[string]any) string {
	b, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(b)
}
