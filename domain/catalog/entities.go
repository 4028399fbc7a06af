package catalog

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Page is one scraped catalog page.
type Page struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	URL         string    `gorm:"type:varchar(2048);not null;uniqueIndex" json:"url"`
	Title       string    `gorm:"type:varchar(512)" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Body        string    `gorm:"type:text" json:"body"`
	FetchedAt   time.Time `gorm:"index" json:"fetched_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Page
func (Page) TableName() string {
	return "catalog_pages"
}

// BeforeCreate hook for Page
func (p *Page) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Snippet renders the page as one context line: "title (url): excerpt".
// The excerpt prefers the meta description and is cut at maxLen runes.
func (p *Page) Snippet(maxLen int) string {
	excerpt := p.Description
	if strings.TrimSpace(excerpt) == "" {
		excerpt = p.Body
	}
	excerpt = truncate(strings.Join(strings.Fields(excerpt), " "), maxLen)

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = p.URL
	}
	if excerpt == "" {
		return fmt.Sprintf("%s (%s)", title, p.URL)
	}
	return fmt.Sprintf("%s (%s): %s", title, p.URL, excerpt)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return strings.TrimSpace(string(runes[:maxLen])) + "…"
}

const maxKeywords = 8

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "you": {}, "your": {}, "are": {}, "with": {},
	"what": {}, "which": {}, "how": {}, "can": {}, "does": {}, "have": {}, "this": {},
	"that": {}, "from": {}, "about": {}, "any": {}, "there": {}, "is": {}, "do": {},
}

// Keywords splits a free-text question into lowercase search terms. Terms
// shorter than three runes and common filler words are dropped; order of
// first appearance is kept.
func Keywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// Score ranks a page against keywords. Title hits weigh most, then the
// description, then the body.
func (p *Page) Score(keywords []string) int {
	title := strings.ToLower(p.Title)
	desc := strings.ToLower(p.Description)
	body := strings.ToLower(p.Body)

	score := 0
	for _, kw := range keywords {
		if strings.Contains(title, kw) {
			score += 3
		}
		if strings.Contains(desc, kw) {
			score += 2
		}
		if strings.Contains(body, kw) {
			score++
		}
	}
	return score
}
