package client

import (
	"net/url"
	"strconv"
	"strings"
)

// Prisecter is the primary/secondary/tertiary sort key the API uses to
// paginate leaderboards.
type Prisecter struct {
	Pri float64 `json:"pri"`
	Sec float64 `json:"sec"`
	Ter float64 `json:"ter"`
}

func (p Prisecter) String() string {
	return formatFloat(p.Pri) + ":" + formatFloat(p.Sec) + ":" + formatFloat(p.Ter)
}

// BoundQuery bounds a leaderboard page. At most one of After and Before
// should be set; zero Limit and empty Country are omitted.
type BoundQuery struct {
	After   *Prisecter
	Before  *Prisecter
	Limit   int
	Country string
}

// Values returns the query parameters for q
func (q BoundQuery) Values() url.Values {
	params := url.Values{}
	switch {
	case q.After != nil:
		params.Set("after", q.After.String())
	case q.Before != nil:
		params.Set("before", q.Before.String())
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Country != "" {
		params.Set("country", strings.ToUpper(q.Country))
	}
	return params
}

// MakeURL appends the encoded params to href. Parameters are sorted by key so
// equal queries always yield the same route, and therefore the same cache key.
func MakeURL(href string, params url.Values) string {
	if len(params) == 0 {
		return href
	}
	return href + "?" + params.Encode()
}

// Routes for every Channel API endpoint

func GeneralStatsRoute() string {
	return "general/stats"
}

func GeneralActivityRoute() string {
	return "general/activity"
}

func UserRoute(user string) string {
	return "users/" + url.PathEscape(strings.ToLower(user))
}

func UserSummariesRoute(user, summary string) string {
	route := UserRoute(user) + "/summaries"
	if summary != "" {
		route += "/" + url.PathEscape(summary)
	}
	return route
}

func DiscordSearchRoute(discordID string) string {
	return "users/search/discord:" + url.PathEscape(discordID)
}

// LeaderboardRoute addresses users/by/{league|xp|ar}
func LeaderboardRoute(leaderboard string, q BoundQuery) string {
	return MakeURL("users/by/"+url.PathEscape(leaderboard), q.Values())
}

// PersonalRecordsRoute addresses users/{user}/records/{mode}/{top|recent|progression}
func PersonalRecordsRoute(user, gameMode, leaderboard string, q BoundQuery) string {
	q.Country = ""
	return MakeURL(UserRoute(user)+"/records/"+url.PathEscape(gameMode)+"/"+url.PathEscape(leaderboard), q.Values())
}

// HistoricalLeaderboardRoute addresses users/history/{leaderboard}/{season}
func HistoricalLeaderboardRoute(leaderboard, season string, q BoundQuery) string {
	return MakeURL("users/history/"+url.PathEscape(leaderboard)+"/"+url.PathEscape(season), q.Values())
}

// NewsRoute addresses the news of every stream
func NewsRoute(limit int) string {
	return MakeURL("news/", limitValues(limit))
}

// LatestNewsRoute addresses the news of one stream, e.g. "global" or "user_{id}"
func LatestNewsRoute(stream string, limit int) string {
	return MakeURL("news/"+url.PathEscape(stream), limitValues(limit))
}

func ScoreflowRoute(user, gameMode string) string {
	return "labs/scoreflow/" + url.PathEscape(strings.ToLower(user)) + "/" + url.PathEscape(gameMode)
}

func LeagueflowRoute(user string) string {
	return "labs/leagueflow/" + url.PathEscape(strings.ToLower(user))
}

func LeagueRanksRoute() string {
	return "labs/league_ranks"
}

func AchievementRoute(achievement string) string {
	return "achievements/" + url.PathEscape(achievement)
}

func limitValues(limit int) url.Values {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return params
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
