package description

import "time"

// ReadPrefMode enumerates the read-preference modes of spec.md §4.7.
type ReadPrefMode uint8

const (
	PrimaryMode ReadPrefMode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

// Hedge describes the hedged-read options carried through to the server;
// the core does not interpret them beyond passing them along on the wire.
type Hedge struct {
	Enabled bool
}

// ReadPref is an immutable read preference: a mode plus the tag-set list,
// maxStaleness, and hedge options that narrow candidate selection.
type ReadPref struct {
	mode        ReadPrefMode
	tagSets     []TagSet
	maxStale    time.Duration
	hasMaxStale bool
	hedge       *Hedge
}

func Primary() ReadPref             { return ReadPref{mode: PrimaryMode} }
func PrimaryPreferred() ReadPref     { return ReadPref{mode: PrimaryPreferredMode} }
func Secondary() ReadPref            { return ReadPref{mode: SecondaryMode} }
func SecondaryPreferred() ReadPref   { return ReadPref{mode: SecondaryPreferredMode} }
func Nearest() ReadPref              { return ReadPref{mode: NearestMode} }

func (rp ReadPref) Mode() ReadPrefMode { return rp.mode }
func (rp ReadPref) TagSets() []TagSet  { return rp.tagSets }

func (rp ReadPref) MaxStaleness() (time.Duration, bool) { return rp.maxStale, rp.hasMaxStale }

func (rp ReadPref) Hedge() *Hedge { return rp.hedge }

// WithTagSets returns a copy of rp narrowed by the given ordered tag sets.
func (rp ReadPref) WithTagSets(sets ...TagSet) ReadPref {
	rp.tagSets = sets
	return rp
}

// WithMaxStaleness returns a copy of rp with the given staleness bound.
func (rp ReadPref) WithMaxStaleness(d time.Duration) ReadPref {
	rp.maxStale = d
	rp.hasMaxStale = true
	return rp
}

// WithHedge returns a copy of rp with hedged reads requested.
func (rp ReadPref) WithHedge(h Hedge) ReadPref {
	rp.hedge = &h
	return rp
}

// IsPrimary reports whether the mode is exactly Primary (no fallback).
func (rp ReadPref) IsPrimary() bool { return rp.mode == PrimaryMode }
