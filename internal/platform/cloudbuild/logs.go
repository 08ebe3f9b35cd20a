package cloudbuild

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	loggingapi "google.golang.org/api/logging/v2"

	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
)

// cursor resumes a Cloud Logging read. Page continues the current query;
// After/Seen restart it from the newest timestamp already delivered, skipping
// entries at that timestamp that were already emitted.
type cursor struct {
	Page     string   `json:"p,omitempty"`
	After    string   `json:"a,omitempty"`
	Seen     []string `json:"s,omitempty"`
	Last     string   `json:"l,omitempty"`
	LastSeen []string `json:"ls,omitempty"`
}

func decodeCursor(token string) cursor {
	var c cursor
	if token == "" {
		return c
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c
	}
	_ = json.Unmarshal(raw, &c)
	return c
}

func (c cursor) encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

type entry struct {
	InsertID  string
	Timestamp time.Time
	Text      string
}

// advance emits the entries not yet delivered and returns the next cursor.
func advance(cur cursor, entries []entry, nextPage string) ([]buildprovider.LogEvent, cursor) {
	after, _ := time.Parse(time.RFC3339Nano, cur.After)
	seen := make(map[string]struct{}, len(cur.Seen))
	for _, id := range cur.Seen {
		seen[id] = struct{}{}
	}

	last, lastSeen := cur.Last, append([]string(nil), cur.LastSeen...)
	if last == "" {
		last, lastSeen = cur.After, append([]string(nil), cur.Seen...)
	}
	lastT, _ := time.Parse(time.RFC3339Nano, last)

	events := make([]buildprovider.LogEvent, 0, len(entries))
	for _, e := range entries {
		if cur.After != "" && e.Timestamp.Equal(after) {
			if _, dup := seen[e.InsertID]; dup {
				continue
			}
		}
		switch {
		case last == "" || e.Timestamp.After(lastT):
			lastT = e.Timestamp
			last = e.Timestamp.UTC().Format(time.RFC3339Nano)
			lastSeen = []string{e.InsertID}
		case e.Timestamp.Equal(lastT):
			lastSeen = append(lastSeen, e.InsertID)
		}
		if isFraming(e.Text) {
			continue
		}
		events = append(events, buildprovider.LogEvent{Timestamp: e.Timestamp, Message: e.Text})
	}

	if nextPage != "" {
		return events, cursor{Page: nextPage, After: cur.After, Seen: cur.Seen, Last: last, LastSeen: lastSeen}
	}
	return events, cursor{After: last, Seen: lastSeen}
}

// isFraming matches the lines Cloud Build writes around step output.
func isFraming(text string) bool {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return true
	case t == "FETCHSOURCE", t == "BUILD", t == "PUSH", t == "DONE":
		return true
	case strings.HasPrefix(t, "starting build "),
		strings.HasPrefix(t, "Starting Step #"),
		strings.HasPrefix(t, "Finished Step #"),
		strings.HasPrefix(t, "Already have image"),
		strings.HasPrefix(t, "Pulling image: "):
		return true
	default:
		return false
	}
}

// FetchLogPage never reports an exhausted stream: Cloud Logging may still
// ingest lines after the build ends, so the caller decides when to stop.
func (a *Adapter) FetchLogPage(ctx context.Context, handle buildprovider.LogHandle, token string) (buildprovider.LogPage, error) {
	cur := decodeCursor(token)
	filter := handle.Filter
	if cur.After != "" {
		filter = fmt.Sprintf(`%s AND timestamp >= %q`, filter, cur.After)
	}
	resp, err := a.logs.Entries.List(&loggingapi.ListLogEntriesRequest{
		ResourceNames: []string{handle.Resource},
		Filter:        filter,
		OrderBy:       "timestamp asc",
		PageSize:      int64(a.cfg.LogPageSize),
		PageToken:     cur.Page,
	}).Context(ctx).Do()
	if err != nil {
		return buildprovider.LogPage{}, classify(err)
	}

	entries := make([]entry, 0, len(resp.Entries))
	for _, le := range resp.Entries {
		ts, err := time.Parse(time.RFC3339Nano, le.Timestamp)
		if err != nil {
			continue
		}
		entries = append(entries, entry{InsertID: le.InsertId, Timestamp: ts.UTC(), Text: le.TextPayload})
	}
	events, next := advance(cur, entries, resp.NextPageToken)
	return buildprovider.LogPage{Events: events, NextToken: next.encode()}, nil
}
