package app

import (
	"slices"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"

	"podloop/internal/library"
)

// Built-in filter labels. Any other label is a fuzzy title search.
const (
	FilterAll        = "All"
	FilterUnplayed   = "Unplayed"
	FilterInProgress = "In Progress"
	FilterDownloaded = "Downloaded"
	FilterQueue      = "Queue"
)

// Filters lists the built-in labels in display order.
var Filters = []string{FilterAll, FilterUnplayed, FilterInProgress, FilterDownloaded, FilterQueue}

// Visible is the list a library screen shows for s: optimistic entries
// first, then the library episodes matching the active filter.
func Visible(s State) []library.Episode {
	var matched []library.Episode
	switch s.Filter {
	case FilterAll, "":
		matched = s.Library
	case FilterUnplayed:
		matched = lo.Filter(s.Library, func(e library.Episode, _ int) bool { return e.Unplayed() })
	case FilterInProgress:
		matched = lo.Filter(s.Library, func(e library.Episode, _ int) bool { return e.InProgress() })
	case FilterDownloaded:
		matched = lo.Filter(s.Library, func(e library.Episode, _ int) bool { return e.Downloaded })
	case FilterQueue:
		matched = lo.Filter(s.Library, func(e library.Episode, _ int) bool { return e.InQueue })
		slices.SortStableFunc(matched, func(a, b library.Episode) int {
			switch {
			case a.QueueOrder < b.QueueOrder:
				return -1
			case a.QueueOrder > b.QueueOrder:
				return 1
			}
			return 0
		})
	default:
		matched = lo.Filter(s.Library, func(e library.Episode, _ int) bool {
			return fuzzy.MatchFold(s.Filter, e.EpisodeTitle) || fuzzy.MatchFold(s.Filter, e.Title)
		})
	}

	out := make([]library.Episode, 0, len(s.Optimistic)+len(matched))
	out = append(out, s.Optimistic...)
	return append(out, matched...)
}
