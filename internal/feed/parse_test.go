package feed

import (
	"errors"
	"strings"
	"testing"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Night Shift</title>
  <itunes:image href="https://x/show.jpg"/>
  <item>
    <title>Episode Two</title>
    <description><![CDATA[<p>Hello &amp; <b>welcome</b></p>]]></description>
    <pubDate>Tue, 02 Jan 2024 10:00:00 +0000</pubDate>
    <enclosure url="https://x/ep2.mp3" length="100" type="audio/mpeg"/>
    <itunes:duration>1:02:03</itunes:duration>
    <itunes:image href="https://x/ep2.jpg"/>
  </item>
  <item>
    <title>Episode One</title>
    <pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate>
    <enclosure url="https://x/ep1.mp3" type="audio/mpeg"/>
    <itunes:duration>95</itunes:duration>
  </item>
  <item>
    <title>Blog post</title>
    <pubDate>Mon, 01 Jan 2024 09:00:00 +0000</pubDate>
  </item>
  <item>
    <enclosure url="https://x/untitled.mp3" type="audio/mpeg"/>
  </item>
</channel>
</rss>`

// TestParse_RSS tests item selection and field extraction from an RSS feed.
func TestParse_RSS(t *testing.T) {
	ch, err := Parse(sampleRSS, "https://x/feed.xml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ch.Title != "Night Shift" || ch.ImageURL != "https://x/show.jpg" {
		t.Fatalf("channel = %+v", ch)
	}
	if len(ch.Items) != 2 {
		t.Fatalf("expected 2 playable items, got %d", len(ch.Items))
	}

	ep2 := ch.Items[0]
	if ep2.ID != EpisodeID("https://x/feed.xml", "https://x/ep2.mp3") || len(ep2.ID) != 16 {
		t.Fatalf("unexpected id %q", ep2.ID)
	}
	if ep2.Description != "Hello & welcome" {
		t.Fatalf("description = %q", ep2.Description)
	}
	if ep2.DurationMs != 3723000 {
		t.Fatalf("duration = %d", ep2.DurationMs)
	}
	if ep2.ImageURL != "https://x/ep2.jpg" {
		t.Fatalf("item image = %q", ep2.ImageURL)
	}
	if ep2.PublishedAt != 1704189600 {
		t.Fatalf("published = %d", ep2.PublishedAt)
	}

	ep1 := ch.Items[1]
	if ep1.ImageURL != "https://x/show.jpg" {
		t.Fatalf("expected channel art fallback, got %q", ep1.ImageURL)
	}
	if ep1.DurationMs != 95000 {
		t.Fatalf("duration = %d", ep1.DurationMs)
	}
}

// TestParse_Atom tests that Atom feeds with enclosure links are accepted.
func TestParse_Atom(t *testing.T) {
	raw := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Show</title>
  <entry>
    <title>Entry</title>
    <updated>2024-01-03T00:00:00Z</updated>
    <link rel="enclosure" type="audio/mpeg" href="https://x/a.mp3"/>
  </entry>
</feed>`
	ch, err := Parse(raw, "https://x/atom")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(ch.Items) != 1 || ch.Items[0].AudioURL != "https://x/a.mp3" {
		t.Fatalf("items = %+v", ch.Items)
	}
}

// TestParse_NoEpisodes tests that a feed without playable items is invalid.
func TestParse_NoEpisodes(t *testing.T) {
	raw := `<rss version="2.0"><channel><title>Empty</title></channel></rss>`
	_, err := Parse(raw, "https://x/empty")
	if !errors.Is(err, ErrInvalidFeed) {
		t.Fatalf("expected ErrInvalidFeed, got %v", err)
	}
}

// TestCleanDescription_Truncates tests the description rune cap.
func TestCleanDescription_Truncates(t *testing.T) {
	long := strings.Repeat("é", maxDescriptionRunes+20)
	got := cleanDescription("<p>" + long + "</p>")
	if n := len([]rune(got)); n != maxDescriptionRunes {
		t.Fatalf("expected %d runes, got %d", maxDescriptionRunes, n)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"95", 95000},
		{"01:35", 95000},
		{"1:02:03", 3723000},
		{"12.5", 12500},
		{"abc", 0},
		{"1:2:3:4", 0},
		{"-5", 0},
	}
	for _, tt := range tests {
		if got := ParseDuration(tt.in); got != tt.want {
			t.Errorf("ParseDuration(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
