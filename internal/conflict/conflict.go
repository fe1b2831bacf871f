// Package conflict decides how a remote SIPP update is reconciled with a
// record that may also have been edited locally since the last sync.
package conflict

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Strategy selects which side wins when both the local and the remote copy changed.
// The numeric values are the codes accepted by SIPP_SYNC_CONFLICT_RESOLUTION.
type Strategy int

const (
	RemoteWins          Strategy = 1
	LocalWins           Strategy = 2
	NewestTimestampWins Strategy = 3
	Manual              Strategy = 4
)

var strategyNames = map[Strategy]string{
	RemoteWins:          "remote_wins",
	LocalWins:           "local_wins",
	NewestTimestampWins: "newest_timestamp_wins",
	Manual:              "manual",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "strategy(" + strconv.Itoa(int(s)) + ")"
}

// ParseStrategy accepts either the numeric code or the strategy name.
func ParseStrategy(v string) (Strategy, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if n, err := strconv.Atoi(v); err == nil {
		s := Strategy(n)
		if _, ok := strategyNames[s]; ok {
			return s, nil
		}
		return 0, fmt.Errorf("unknown conflict resolution code %d", n)
	}
	for s, name := range strategyNames {
		if name == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown conflict resolution strategy %q", v)
}

// Outcome is what the sync job should do with an incoming remote record.
type Outcome int

const (
	// Apply overwrites the local row with the remote version.
	Apply Outcome = iota
	// KeepLocal leaves the local row untouched.
	KeepLocal
	// Flag leaves the local row untouched and marks it for manual review.
	Flag
)

func (o Outcome) String() string {
	switch o {
	case Apply:
		return "apply"
	case KeepLocal:
		return "keep_local"
	case Flag:
		return "flag"
	}
	return "unknown"
}

// LocalState is the sync-relevant state of an existing local row.
type LocalState struct {
	LocalUpdatedAt  *time.Time
	LastSyncAt      *time.Time
	RemoteUpdatedAt *time.Time
}

// Dirty reports whether the row was edited locally after its last successful sync.
func (l LocalState) Dirty() bool {
	if l.LocalUpdatedAt == nil {
		return false
	}
	if l.LastSyncAt == nil {
		return true
	}
	return l.LocalUpdatedAt.After(*l.LastSyncAt)
}

// RemoteState is the sync-relevant state of the incoming record.
type RemoteState struct {
	UpdatedAt time.Time
}

// Decision is the result of Resolve.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Resolve applies the strategy to a record that changed remotely.
// A record that was not edited locally always takes the remote version.
func (s Strategy) Resolve(local LocalState, remote RemoteState) Decision {
	if !local.Dirty() {
		return Decision{Outcome: Apply, Reason: "no local changes"}
	}

	switch s {
	case RemoteWins:
		return Decision{Outcome: Apply, Reason: "remote wins"}
	case LocalWins:
		return Decision{Outcome: KeepLocal, Reason: "local wins"}
	case NewestTimestampWins:
		// Remote records without a timestamp cannot prove they are newer.
		if remote.UpdatedAt.IsZero() || !remote.UpdatedAt.After(*local.LocalUpdatedAt) {
			return Decision{Outcome: KeepLocal, Reason: "local edit is newer"}
		}
		return Decision{Outcome: Apply, Reason: "remote update is newer"}
	default:
		return Decision{Outcome: Flag, Reason: "both sides changed"}
	}
}
