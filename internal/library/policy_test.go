package library

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func ep(id, feedURL string, published int64) Episode {
	return Episode{ID: id, FeedURL: feedURL, PublishedAt: published, DurationMs: 1000}
}

func TestDownloadCandidates(t *testing.T) {
	Convey("DownloadCandidates", t, func() {
		a1 := ep("a1", "A", 100)
		a2 := ep("a2", "A", 200)
		a3 := ep("a3", "A", 300)
		b1 := ep("b1", "B", 100)
		b2 := ep("b2", "B", 200)

		Convey("Should default to the latest episode per feed", func() {
			got := DownloadCandidates([]Episode{a1, a3, a2, b1, b2}, nil)
			So(got, ShouldResemble, []string{"a3", "b2"})
		})

		Convey("Should skip a latest episode that is already downloaded", func() {
			a3.Downloaded = true
			got := DownloadCandidates([]Episode{a1, a2, a3}, map[string]Policy{"A": PolicyLatest})
			So(got, ShouldBeEmpty)
		})

		Convey("Should pick the oldest unplayed, undownloaded episode", func() {
			a1.ProgressMs = 500
			got := DownloadCandidates([]Episode{a1, a2, a3}, map[string]Policy{"A": PolicyOldestUnplayed})
			So(got, ShouldResemble, []string{"a2"})
		})

		Convey("Should return nothing for the none policy", func() {
			got := DownloadCandidates([]Episode{a1, a2}, map[string]Policy{"A": PolicyNone})
			So(got, ShouldBeEmpty)
		})
	})
}

func TestArchiveCandidates(t *testing.T) {
	Convey("ArchiveCandidates", t, func() {
		old := ep("old", "A", 100)
		done := ep("done", "A", 150)
		done.ProgressMs = done.DurationMs
		ref := ep("ref", "A", 200)
		newer := ep("newer", "A", 300)

		got := ArchiveCandidates(ref, []Episode{old, done, ref, newer})
		So(got, ShouldResemble, []string{"old"})
	})
}

func TestEpisodeProgress(t *testing.T) {
	Convey("Episode progress helpers", t, func() {
		e := Episode{DurationMs: 1000}
		So(e.Unplayed(), ShouldBeTrue)
		So(e.InProgress(), ShouldBeFalse)

		e.ProgressMs = 10
		So(e.InProgress(), ShouldBeTrue)

		e.ProgressMs = 1000
		So(e.Finished(), ShouldBeTrue)
		So(e.InProgress(), ShouldBeFalse)

		Convey("Should prefer the local copy once downloaded", func() {
			e.AudioURL = "https://x/a.mp3"
			So(e.PlaybackURL(), ShouldEqual, "https://x/a.mp3")
			e.Downloaded, e.LocalPath = true, "/data/a.mp3"
			So(e.PlaybackURL(), ShouldEqual, "/data/a.mp3")
		})
	})
}
