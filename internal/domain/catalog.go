package domain

import (
	"strings"
	"time"
)

// Catalog is an immutable reference-data snapshot taken once per session.
// All methods are safe on a nil receiver.
type Catalog struct {
	articles  []Article
	byID      map[int64]int
	byCode    map[string]int
	fetchedAt time.Time
}

func NewCatalog(articles []Article, fetchedAt time.Time) *Catalog {
	c := &Catalog{
		articles:  make([]Article, len(articles)),
		byID:      make(map[int64]int, len(articles)),
		byCode:    make(map[string]int, len(articles)),
		fetchedAt: fetchedAt,
	}
	copy(c.articles, articles)
	for i, a := range c.articles {
		c.byID[a.ID] = i
		if code := normalizeCode(a.Code); code != "" {
			c.byCode[code] = i
		}
	}
	return c
}

func (c *Catalog) Article(id int64) (Article, bool) {
	if c == nil {
		return Article{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Article{}, false
	}
	return c.articles[i], true
}

func (c *Catalog) ArticleByCode(code string) (Article, bool) {
	if c == nil {
		return Article{}, false
	}
	i, ok := c.byCode[normalizeCode(code)]
	if !ok {
		return Article{}, false
	}
	return c.articles[i], true
}

func (c *Catalog) Articles() []Article {
	if c == nil {
		return nil
	}
	out := make([]Article, len(c.articles))
	copy(out, c.articles)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.articles)
}

func (c *Catalog) FetchedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.fetchedAt
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
