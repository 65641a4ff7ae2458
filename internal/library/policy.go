package library

import (
	"sort"

	"github.com/samber/lo"
)

// DownloadCandidates returns the ids to download for each feed according to
// its policy. Feeds missing from policies use PolicyLatest.
func DownloadCandidates(episodes []Episode, policies map[string]Policy) []string {
	byFeed := lo.GroupBy(episodes, func(e Episode) string { return e.FeedURL })

	feeds := lo.Keys(byFeed)
	sort.Strings(feeds)

	var out []string
	for _, url := range feeds {
		eps := byFeed[url]
		policy, ok := policies[url]
		if !ok || policy == "" {
			policy = PolicyLatest
		}

		switch policy {
		case PolicyLatest:
			latest := lo.MaxBy(eps, func(a, b Episode) bool { return a.PublishedAt > b.PublishedAt })
			if !latest.Downloaded {
				out = append(out, latest.ID)
			}
		case PolicyOldestUnplayed:
			pending := lo.Filter(eps, func(e Episode, _ int) bool { return e.Unplayed() && !e.Downloaded })
			if len(pending) > 0 {
				next := lo.MinBy(pending, func(a, b Episode) bool { return a.PublishedAt < b.PublishedAt })
				out = append(out, next.ID)
			}
		case PolicyNone:
		}
	}
	return out
}

// ArchiveCandidates returns the unfinished episodes published before ref.
func ArchiveCandidates(ref Episode, episodes []Episode) []string {
	return lo.FilterMap(episodes, func(e Episode, _ int) (string, bool) {
		return e.ID, e.PublishedAt < ref.PublishedAt && e.ID != ref.ID && e.ProgressMs < e.DurationMs
	})
}

// ValidPolicy reports whether p is a known policy.
func ValidPolicy(p Policy) bool {
	return p == PolicyLatest || p == PolicyOldestUnplayed || p == PolicyNone
}
