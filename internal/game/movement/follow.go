// Package movement relocates sessions between rooms, propagating the move
// to followers and triggering arrival reactions.
package movement

import "sync"

// FollowGraph tracks who follows whom. A session follows at most one
// leader; a leader may have any number of followers. Cycles are legal:
// propagation suppression in the orchestrator keeps them from looping.
type FollowGraph struct {
	mu        sync.RWMutex
	leaderOf  map[string]string          // followerID → leaderID
	followers map[string]map[string]bool // leaderID → set of followerIDs
}

// NewFollowGraph creates an empty FollowGraph.
func NewFollowGraph() *FollowGraph {
	return &FollowGraph{
		leaderOf:  make(map[string]string),
		followers: make(map[string]map[string]bool),
	}
}

// Follow makes follower follow leader, replacing any previous leader.
//
// Precondition: follower != leader.
// Postcondition: Leader(follower) == leader.
func (g *FollowGraph) Follow(follower, leader string) {
	if follower == leader {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unfollowLocked(follower)
	g.leaderOf[follower] = leader
	if g.followers[leader] == nil {
		g.followers[leader] = make(map[string]bool)
	}
	g.followers[leader][follower] = true
}

// Unfollow removes follower's leader link, if any.
func (g *FollowGraph) Unfollow(follower string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unfollowLocked(follower)
}

func (g *FollowGraph) unfollowLocked(follower string) {
	leader, ok := g.leaderOf[follower]
	if !ok {
		return
	}
	delete(g.leaderOf, follower)
	if fs, ok := g.followers[leader]; ok {
		delete(fs, follower)
		if len(fs) == 0 {
			delete(g.followers, leader)
		}
	}
}

// Remove drops the session from the graph entirely: its leader link and
// every link where it is the leader. For disconnects.
func (g *FollowGraph) Remove(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unfollowLocked(sessionID)
	for follower := range g.followers[sessionID] {
		delete(g.leaderOf, follower)
	}
	delete(g.followers, sessionID)
}

// Leader returns the session's leader, if any.
func (g *FollowGraph) Leader(follower string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.leaderOf[follower]
	return l, ok
}

// Followers returns a snapshot of the leader's followers.
//
// Postcondition: Returns a slice (may be empty, never shares storage).
func (g *FollowGraph) Followers(leader string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.followers[leader]))
	for f := range g.followers[leader] {
		out = append(out, f)
	}
	return out
}
