package description

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/corekv/docdriver/address"
)

// DefaultLocalThreshold is the default latency-window width (spec.md §4.7
// step 6, and §6 "localThresholdMS").
const DefaultLocalThreshold = 15 * time.Millisecond

// idleWritePeriod is the idle-write term of the minimum maxStaleness bound
// spec.md §4.7 step 4 enforces: max(90s, heartbeatFrequency + idleWritePeriod).
const idleWritePeriod = 10 * time.Second

// ErrServerSelection is returned, wrapped with a diagnostic listing every
// known server and its type, when selection cannot find a candidate within
// the timeout (spec.md §8, "Boundary behaviors").
var ErrServerSelection = errors.New("server selection failed")

// ErrInvalidMaxStaleness is returned synchronously (spec.md §4.7 step 4,
// "fails synchronously") when maxStaleness is below the minimum bound.
var ErrInvalidMaxStaleness = errors.New("maxStaleness is below the minimum allowed value")

// Selector narrows a Topology snapshot down to a candidate set. Predicate
// selectors (used by tests and by internal monitoring commands) can be
// built directly from a function; ReadPrefSelector is the normal case.
type Selector interface {
	SelectServers(t Topology) ([]Server, error)
}

type SelectorFunc func(t Topology) ([]Server, error)

func (f SelectorFunc) SelectServers(t Topology) ([]Server, error) { return f(t) }

// ReadPrefSelector derives candidates from a ReadPref per the table in
// spec.md §4.7 step 3, then applies maxStaleness (step 4) and tag-set
// (step 5) filters. heartbeatFrequency is needed for the staleness
// calculation.
func ReadPrefSelector(rp ReadPref, heartbeatFrequency time.Duration) Selector {
	return SelectorFunc(func(t Topology) ([]Server, error) {
		if t.HasCompatibilityError() {
			return nil, fmt.Errorf("%w: %v", ErrServerSelection, t.CompatibilityError)
		}

		if d, ok := rp.MaxStaleness(); ok {
			min := 90 * time.Second
			if bound := heartbeatFrequency + idleWritePeriod; bound > min {
				min = bound
			}
			if d < min {
				return nil, ErrInvalidMaxStaleness
			}
		}

		candidates := candidatesForTopology(t, rp)
		candidates = filterMaxStaleness(candidates, rp, heartbeatFrequency)
		candidates = filterTagSets(candidates, rp)
		return candidates, nil
	})
}

func candidatesForTopology(t Topology, rp ReadPref) []Server {
	switch t.Kind {
	case TopologyUnknown:
		return nil
	case Single, LoadBalanced:
		out := make([]Server, 0, len(t.Servers))
		for _, s := range t.Servers {
			out = append(out, s)
		}
		return out
	case Sharded:
		return filterKind(t, Mongos)
	case ReplicaSetWithPrimary, ReplicaSetNoPrimary:
		switch rp.Mode() {
		case PrimaryMode:
			return filterKind(t, RSPrimary)
		case SecondaryMode:
			return filterKind(t, RSSecondary)
		case SecondaryPreferredMode:
			if secs := filterKind(t, RSSecondary); len(secs) > 0 {
				return secs
			}
			return filterKind(t, RSPrimary)
		case PrimaryPreferredMode:
			if pri := filterKind(t, RSPrimary); len(pri) > 0 {
				return pri
			}
			return filterKind(t, RSSecondary)
		case NearestMode:
			return filterKind(t, RSPrimary, RSSecondary)
		}
	}
	return nil
}

func filterKind(t Topology, kinds ...ServerKind) []Server {
	var out []Server
	for _, s := range t.Servers {
		for _, k := range kinds {
			if s.Kind == k {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// filterMaxStaleness implements spec.md §4.7 step 4's two staleness
// formulas (with/without a primary in the candidate topology).
func filterMaxStaleness(candidates []Server, rp ReadPref, heartbeatFrequency time.Duration) []Server {
	maxStale, ok := rp.MaxStaleness()
	if !ok {
		return candidates
	}

	var primary *Server
	for i := range candidates {
		if candidates[i].Kind == RSPrimary {
			primary = &candidates[i]
			break
		}
	}

	var maxSecLastWrite time.Time
	for _, c := range candidates {
		if c.Kind == RSSecondary && c.LastWriteDate.After(maxSecLastWrite) {
			maxSecLastWrite = c.LastWriteDate
		}
	}

	out := make([]Server, 0, len(candidates))
	for _, c := range candidates {
		if c.Kind == RSPrimary {
			out = append(out, c)
			continue
		}
		var staleness time.Duration
		if primary != nil {
			staleness = (c.LastUpdateTime.Sub(c.LastWriteDate)) -
				(primary.LastUpdateTime.Sub(primary.LastWriteDate)) + heartbeatFrequency
		} else {
			staleness = maxSecLastWrite.Sub(c.LastWriteDate) + heartbeatFrequency
		}
		if staleness <= maxStale {
			out = append(out, c)
		}
	}
	return out
}

// filterTagSets implements spec.md §4.7 step 5: keep the first tag set
// (in order) that any candidate matches, and retain only matching
// candidates. An empty tag-set list is a no-op.
func filterTagSets(candidates []Server, rp ReadPref) []Server {
	sets := rp.TagSets()
	if len(sets) == 0 {
		return candidates
	}
	for _, set := range sets {
		var matched []Server
		for _, c := range candidates {
			if set.ContainsAll(c.Tags) {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}

// OpCounter tracks in-flight operation counts per server address, used by
// the final pick-of-two tiebreak (spec.md §4.7 step 8).
type OpCounter interface {
	Count(addr address.Address) int64
}

// ApplyLatencyWindow implements spec.md §4.7 step 6: keep only servers
// within localThreshold of the lowest RTT among candidates. LoadBalancer
// members (which carry no RTT) are always retained.
func ApplyLatencyWindow(candidates []Server, localThreshold time.Duration) []Server {
	if len(candidates) == 0 {
		return candidates
	}
	min := time.Duration(-1)
	for _, c := range candidates {
		if c.Kind == LoadBalancer {
			continue
		}
		if min < 0 || c.AverageRTT < min {
			min = c.AverageRTT
		}
	}
	if min < 0 {
		return candidates
	}
	out := make([]Server, 0, len(candidates))
	for _, c := range candidates {
		if c.Kind == LoadBalancer || c.AverageRTT <= min+localThreshold {
			out = append(out, c)
		}
	}
	return out
}

// Deprioritize removes addr from candidates if more than one candidate
// remains (spec.md §4.7 step 7, used by the executor's retry to steer
// away from a just-failed mongos).
func Deprioritize(candidates []Server, addr address.Address) []Server {
	if len(candidates) <= 1 {
		return candidates
	}
	out := make([]Server, 0, len(candidates))
	for _, c := range candidates {
		if c.Addr != addr {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// Pick implements spec.md §4.7 step 8: zero candidates asks the caller to
// retry, exactly one is returned outright, two or more are narrowed by
// sampling two uniformly at random and keeping the lower-opcount one.
func Pick(candidates []Server, counter OpCounter, rng *rand.Rand) (Server, bool) {
	switch len(candidates) {
	case 0:
		return Server{}, false
	case 1:
		return candidates[0], true
	default:
		i, j := rng.Intn(len(candidates)), rng.Intn(len(candidates))
		for j == i && len(candidates) > 1 {
			j = rng.Intn(len(candidates))
		}
		a, b := candidates[i], candidates[j]
		if counter == nil {
			return a, true
		}
		if counter.Count(b.Addr) < counter.Count(a.Addr) {
			return b, true
		}
		return a, true
	}
}

// DiagnosticString renders every known server and its type for the
// ServerSelectionError message spec.md §8 requires on timeout.
func DiagnosticString(t Topology) string {
	s := fmt.Sprintf("topology type %s, servers: [", t.Kind)
	first := true
	for addr, srv := range t.Servers {
		if !first {
			s += ", "
		}
		first = false
		s += fmt.Sprintf("%s:%s", addr, srv.Kind)
	}
	return s + "]"
}
