package store

import (
	"sort"
	"strings"
	"time"

	"github.com/andperez123/capnet/internal/model"
)

const (
	// LeaderboardSize caps the number of entries GetLeaderboard returns.
	LeaderboardSize = 50
	// DefaultActivityLimit applies when a caller passes a non-positive limit.
	DefaultActivityLimit = 50
	// MaxActivityLimit bounds a single activity read.
	MaxActivityLimit = 500
)

// NormalizeSkills trims each skill, drops empties and keeps the first
// occurrence of duplicates.
func NormalizeSkills(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Leaderboard orders agents by earnings descending, keeps the top
// LeaderboardSize and projects them without email.
// Ties keep joinedAt order, then agentId, so the output is deterministic.
func Leaderboard(agents []*model.Agent) []model.LeaderboardEntry {
	sorted := make([]*model.Agent, 0, len(agents))
	for _, a := range agents {
		if a != nil {
			sorted = append(sorted, a)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Earnings != b.Earnings {
			return a.Earnings > b.Earnings
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.AgentID < b.AgentID
	})
	if len(sorted) > LeaderboardSize {
		sorted = sorted[:LeaderboardSize]
	}
	out := make([]model.LeaderboardEntry, len(sorted))
	for i, a := range sorted {
		out[i] = model.LeaderboardEntry{
			AgentID:    a.AgentID,
			OperatorID: a.OperatorID,
			Earnings:   a.Earnings,
			JoinedAt:   a.JoinedAt,
		}
	}
	return out
}

// ClampActivityLimit maps a caller limit onto [1, MaxActivityLimit].
func ClampActivityLimit(limit int) int {
	if limit <= 0 {
		return DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		return MaxActivityLimit
	}
	return limit
}

// MergeAgent builds the record an upsert writes. prev may be nil.
func MergeAgent(prev *model.Agent, reg model.AgentRegistration, now time.Time) *model.Agent {
	status := reg.ActivationStatus
	if status == "" {
		status = model.DefaultActivationStatus
	}
	a := &model.Agent{
		AgentID:          reg.AgentID,
		OperatorID:       reg.OperatorID,
		Email:            reg.Email,
		Skills:           NormalizeSkills(reg.Skills),
		ActivationStatus: status,
		JoinedAt:         now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if prev != nil {
		a.Earnings = prev.Earnings
		if !prev.JoinedAt.IsZero() {
			a.JoinedAt = prev.JoinedAt
		}
		if !prev.CreatedAt.IsZero() {
			a.CreatedAt = prev.CreatedAt
		}
	}
	return a
}
