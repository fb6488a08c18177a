package monitor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var statusIDPattern = regexp.MustCompile(`/status/(\d+)`)

// ParsePostID extracts the numeric post id from a permalink such as
// https://x.com/user/status/123456. The second return is false when the
// link carries no status segment or the digits overflow int64.
func ParsePostID(link string) (int64, bool) {
	m := statusIDPattern.FindStringSubmatch(link)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// CanonicalPostURL rewrites a permalink onto the x.com domain, building one
// from scratch when the source gave none (mirror feeds link to themselves).
func CanonicalPostURL(link, username string, id int64) string {
	if link == "" {
		return fmt.Sprintf("https://x.com/%s/status/%d", username, id)
	}
	link = strings.Replace(link, "//twitter.com/", "//x.com/", 1)
	if strings.Contains(link, "//x.com/") {
		return link
	}
	return fmt.Sprintf("https://x.com/%s/status/%d", username, id)
}
