// Package session governs conversation threads: who may open one, which
// messages start a turn, and when a thread is closed for good.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/gateway"
)

// State is the lifecycle state of a conversation thread.
type State int

const (
	Open State = iota
	Archived
	Locked
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Archived:
		return "archived"
	case Locked:
		return "locked"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is a conversation thread as seen by the lifecycle. It is a
// snapshot: the platform owns the live state and message count.
type Session struct {
	ID              string
	GuildID         string
	ParentChannelID string
	OwnerUserID     string // the bot; threads are created on a user's behalf
	Name            string
	CreatedAt       time.Time
	State           State
	MessageCount    int
}

// fromThread snapshots a platform thread. A thread that is both archived and
// locked, or that carries the closed prefix, is Closed.
func fromThread(th gateway.Thread, closedPrefix string) *Session {
	s := &Session{
		ID:              th.ID,
		GuildID:         th.GuildID,
		ParentChannelID: th.ParentID,
		OwnerUserID:     th.OwnerID,
		Name:            th.Name,
		CreatedAt:       th.CreatedAt,
		MessageCount:    th.MessageCount,
	}
	switch {
	case (th.Archived && th.Locked) || (closedPrefix != "" && strings.HasPrefix(th.Name, closedPrefix)):
		s.State = Closed
	case th.Locked:
		s.State = Locked
	case th.Archived:
		s.State = Archived
	default:
		s.State = Open
	}
	return s
}

// Reason explains why a creation request was rejected or a message ignored.
type Reason string

const (
	ReasonGuildNotAllowed Reason = "guild not allowed"
	ReasonNotTextChannel  Reason = "not a text channel"
	ReasonBlocked         Reason = "user blocked"
	ReasonRateLimited     Reason = "creation rate limit"

	ReasonSelf          Reason = "own message"
	ReasonBotAuthor     Reason = "bot author"
	ReasonMentionOnly   Reason = "mention only"
	ReasonCommand       Reason = "command prefix"
	ReasonNotThread     Reason = "not a thread"
	ReasonForeignThread Reason = "thread not owned by bot"
	ReasonInactive      Reason = "thread not active"
	ReasonNotOpen       Reason = "thread not open"
	ReasonOverCap       Reason = "message cap reached"
)

// Rejection is returned when a request is refused or a message ignored by
// policy. It is not an operational failure.
type Rejection struct {
	Reason Reason
}

func (r *Rejection) Error() string {
	return "session: rejected: " + string(r.Reason)
}

func reject(r Reason) error { return &Rejection{Reason: r} }
