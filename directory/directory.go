// This package exposes read-only lookups of users and group membership. The
// relational data is owned elsewhere; the relay core consumes it through the
// Directory interface and never mutates it.
package directory

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("directory: not found")

// Group is a membership snapshot: the owning identity plus every member.
type Group struct {
	ID      string
	OwnerID string
	Members []string
}

type Directory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	Group(ctx context.Context, groupID string) (*Group, error)
}

// Recipients resolves the delivery set for a group message: members plus the
// owner, minus the sender.
func (g *Group) Recipients(sender string) []string {
	seen := make(map[string]struct{}, len(g.Members)+1)
	var out []string
	add := func(id string) {
		if id == sender {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(g.OwnerID)
	for _, m := range g.Members {
		add(m)
	}
	return out
}

// Participant reports whether userID may post to the group.
func (g *Group) Participant(userID string) bool {
	if userID == g.OwnerID {
		return true
	}
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}
