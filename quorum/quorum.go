// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package quorum holds the pure vote arithmetic the contest engine runs on:
// tallying, winner selection, tie-breaking, and quorum checks. Nothing here
// performs I/O or keeps state; given identical inputs the results are
// identical, except for the tie-break, whose single source of randomness is
// the caller-provided generator.
package quorum

import (
	"math/rand"
	"sort"
)

// Vote is one ballot value against one entry. Callers must pass the current
// ballot set, one vote per (voter, entry) pair; replacement of repeat votes
// happens at the record store, not here.
type Vote struct {
	Entry string // Votable entry id
	Value int64  // Signed ballot value
}

// Consolidate sums ballot values per entry.
func Consolidate(votes []Vote) map[string]int64 {
	totals := make(map[string]int64, len(votes))
	for _, v := range votes {
		totals[v.Entry] += v.Value
	}
	return totals
}

// Winners returns the ids of all entries attaining the maximum total, in
// lexicographic order. More than one id means a tie. An empty totals map
// yields an empty slice.
func Winners(totals map[string]int64) []string {
	if len(totals) == 0 {
		return []string{}
	}

	var (
		max     int64
		first   = true
		winners = make([]string, 0, len(totals))
	)
	for id, total := range totals {
		switch {
		case first || total > max:
			max = total
			winners = winners[:0]
			winners = append(winners, id)
			first = false
		case total == max:
			winners = append(winners, id)
		}
	}
	sort.Strings(winners)
	return winners
}

// TieBreak selects a single winner. A sole winner is returned directly; ties
// are broken uniformly at random using rnd. Callers must have already
// verified their minimum-entry and minimum-voter thresholds; an empty winner
// set returns the empty string.
func TieBreak(winners []string, rnd *rand.Rand) string {
	switch len(winners) {
	case 0:
		return ""
	case 1:
		return winners[0]
	}
	return winners[rnd.Intn(len(winners))]
}

// Satisfied reports whether a quorum of distinct actors has been reached.
// Quorum is "N distinct actors agree", never "N total actions".
func Satisfied(distinct, required int) bool {
	return required > 0 && distinct >= required
}
