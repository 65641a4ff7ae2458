package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	"golang.org/x/net/html"
)

const maxDescriptionRunes = 500

// Channel is a parsed feed.
type Channel struct {
	URL      string
	Title    string
	ImageURL string
	Items    []Item
}

// Item is one playable episode of a Channel.
type Item struct {
	ID          string
	Title       string
	Description string
	AudioURL    string
	ImageURL    string
	DurationMs  int64
	PublishedAt int64 // unix seconds, 0 when unknown
}

// Parse decodes an RSS, Atom or RDF document. Items without a title or an
// audio enclosure are skipped; a feed with no usable items is invalid.
func Parse(raw, feedURL string) (Channel, error) {
	f, err := gofeed.NewParser().ParseString(raw)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}

	ch := Channel{
		URL:      feedURL,
		Title:    strings.TrimSpace(f.Title),
		ImageURL: channelImage(f),
	}

	for _, it := range f.Items {
		title := strings.TrimSpace(it.Title)
		audio := audioURL(it)
		if title == "" || audio == "" {
			continue
		}
		item := Item{
			ID:          EpisodeID(feedURL, audio),
			Title:       title,
			Description: cleanDescription(lo.CoalesceOrEmpty(it.Description, it.Content)),
			AudioURL:    audio,
			ImageURL:    lo.CoalesceOrEmpty(itemImage(it), ch.ImageURL),
		}
		if it.ITunesExt != nil {
			item.DurationMs = ParseDuration(it.ITunesExt.Duration)
		}
		if t := lo.CoalesceOrEmpty(it.PublishedParsed, it.UpdatedParsed); t != nil {
			item.PublishedAt = t.Unix()
		}
		ch.Items = append(ch.Items, item)
	}

	if len(ch.Items) == 0 {
		return ch, fmt.Errorf("%w: no episodes found in feed", ErrInvalidFeed)
	}
	ch.Items = lo.UniqBy(ch.Items, func(i Item) string { return i.ID })
	return ch, nil
}

// EpisodeID is a stable identifier derived from the feed and audio URLs.
func EpisodeID(feedURL, audioURL string) string {
	sum := sha256.Sum256([]byte(feedURL + "|" + audioURL))
	return hex.EncodeToString(sum[:])[:16]
}

func audioURL(it *gofeed.Item) string {
	enc, ok := lo.Find(it.Enclosures, func(e *gofeed.Enclosure) bool {
		return e != nil && e.URL != "" && strings.HasPrefix(e.Type, "audio/")
	})
	if ok {
		return enc.URL
	}
	// Some feeds omit or mislabel the type.
	enc, ok = lo.Find(it.Enclosures, func(e *gofeed.Enclosure) bool {
		return e != nil && e.URL != "" && e.Type == ""
	})
	if ok {
		return enc.URL
	}
	return ""
}

func channelImage(f *gofeed.Feed) string {
	if f.Image != nil && f.Image.URL != "" {
		return f.Image.URL
	}
	if f.ITunesExt != nil {
		return f.ITunesExt.Image
	}
	return ""
}

func itemImage(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	if it.ITunesExt != nil {
		return it.ITunesExt.Image
	}
	return ""
}

// cleanDescription keeps the text nodes of an HTML fragment, unescaped and
// with whitespace collapsed.
func cleanDescription(s string) string {
	var words []string
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			words = append(words, strings.Fields(string(z.Text()))...)
		}
	}
	s = strings.Join(words, " ")
	if utf8.RuneCountInString(s) > maxDescriptionRunes {
		s = string([]rune(s)[:maxDescriptionRunes])
	}
	return s
}

// ParseDuration accepts itunes:duration values: seconds, MM:SS or HH:MM:SS.
// Unparseable values yield 0.
func ParseDuration(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0
		}
		total = total*60 + v
	}
	return int64(total * 1000)
}
