package description

import "github.com/corekv/docdriver/address"

// ApplyServer runs the SDAM state-machine rules of spec.md §4.6 and returns
// the new TopologyDescription. The receiver is never mutated; the result is
// always a fresh value suitable for publishing as the next snapshot.
//
// ClusterTime advancement (rule 3) is done by topology.Topology's
// AdvanceClusterTime, which the executor calls with each reply's
// $clusterTime; event emission (rule 4) is done by the caller,
// topology.Topology.applyServer. This function only implements rules 1, 2,
// and 6 (type/member-set derivation).
func (t Topology) ApplyServer(desc Server) Topology {
	next := t.Clone()

	if next.Kind == TopologyUnknown {
		next = applyToUnknown(next, desc)
		next.Servers[desc.Addr] = desc
		return next
	}

	switch next.Kind {
	case Single:
		next.Servers[desc.Addr] = desc
		if !desc.WireVersionsCompatible() {
			next.CompatibilityError = incompatibleErr(desc)
		}
		return next
	case Sharded:
		return applySharded(next, desc)
	case LoadBalanced:
		next.Servers[desc.Addr] = desc
		return next
	case ReplicaSetWithPrimary, ReplicaSetNoPrimary:
		return applyReplicaSet(next, desc)
	}
	return next
}

func applyToUnknown(t Topology, desc Server) Topology {
	switch desc.Kind {
	case Standalone:
		t.Kind = Single
	case Mongos:
		t.Kind = Sharded
	case LoadBalancer:
		t.Kind = LoadBalanced
	case RSPrimary:
		t.SetName = desc.SetName
		t.Kind = ReplicaSetWithPrimary
		t = syncRSMembers(t, desc)
		t.MaxSetVersion, t.MaxElectionID = desc.SetVersion, desc.ElectionID
	case RSSecondary, RSArbiter, RSOther:
		t.SetName = desc.SetName
		t.Kind = ReplicaSetNoPrimary
		t = syncRSMembers(t, desc)
	case Unknown, RSGhost:
		// stays Unknown
	}
	if !desc.WireVersionsCompatible() {
		t.CompatibilityError = incompatibleErr(desc)
	}
	return t
}

func applySharded(t Topology, desc Server) Topology {
	if desc.Kind != Mongos && desc.Kind != Unknown {
		delete(t.Servers, desc.Addr)
		return t
	}
	t.Servers[desc.Addr] = desc
	if !desc.WireVersionsCompatible() {
		t.CompatibilityError = incompatibleErr(desc)
	}
	return t
}

func applyReplicaSet(t Topology, desc Server) Topology {
	if desc.Kind != Unknown && desc.SetName != "" && desc.SetName != t.SetName {
		// Wrong set name: remove the server entirely (spec.md §4.6).
		delete(t.Servers, desc.Addr)
		return finalizeRSType(t)
	}

	if desc.Kind == RSPrimary {
		if isStalePrimary(t, desc) {
			desc.Kind = Unknown
			desc.LastError = errStalePrimary
			t.Servers[desc.Addr] = desc
			return finalizeRSType(t)
		}
		t.MaxSetVersion, t.MaxElectionID = desc.SetVersion, desc.ElectionID
		// Demote any other server currently marked primary.
		for addr, s := range t.Servers {
			if addr != desc.Addr && s.Kind == RSPrimary {
				s.Kind = Unknown
				t.Servers[addr] = s
			}
		}
		t.Servers[desc.Addr] = desc
		t = syncRSMembers(t, desc)
	} else {
		t.Servers[desc.Addr] = desc
		if desc.Kind == RSSecondary || desc.Kind == RSArbiter || desc.Kind == RSOther {
			t = syncRSMembers(t, desc)
		}
	}

	if !desc.WireVersionsCompatible() {
		t.CompatibilityError = incompatibleErr(desc)
	}
	return finalizeRSType(t)
}

// isStalePrimary reports whether desc's (setVersion, electionId) is older
// than the topology's recorded maximum (spec.md §4.6, "demoted to Unknown").
func isStalePrimary(t Topology, desc Server) bool {
	if t.MaxSetVersion == nil || t.MaxElectionID == nil {
		return false
	}
	if desc.SetVersion == nil || desc.ElectionID == nil {
		return false
	}
	if *desc.SetVersion != *t.MaxSetVersion {
		return *desc.SetVersion < *t.MaxSetVersion
	}
	return CompareElectionID(*desc.ElectionID, *t.MaxElectionID) < 0
}

// syncRSMembers replaces the known-server set with hosts ∪ passives ∪
// arbiters from desc, removals first then additions (spec.md §4.6).
func syncRSMembers(t Topology, desc Server) Topology {
	wanted := map[address.Address]bool{}
	for _, a := range desc.Hosts {
		wanted[a] = true
	}
	for _, a := range desc.Passives {
		wanted[a] = true
	}
	for _, a := range desc.Arbiters {
		wanted[a] = true
	}
	for addr := range t.Servers {
		if !wanted[addr] {
			delete(t.Servers, addr)
		}
	}
	for addr := range wanted {
		if _, ok := t.Servers[addr]; !ok {
			t.Servers[addr] = NewDefaultServer(addr)
		}
	}
	return t
}

// finalizeRSType re-derives ReplicaSetWithPrimary vs ReplicaSetNoPrimary
// from whether any member is currently an RSPrimary (spec.md §4.6,
// "Transition ... follows whether any RSPrimary remains").
func finalizeRSType(t Topology) Topology {
	for _, s := range t.Servers {
		if s.Kind == RSPrimary {
			t.Kind = ReplicaSetWithPrimary
			return t
		}
	}
	t.Kind = ReplicaSetNoPrimary
	return t
}

func incompatibleErr(desc Server) error {
	return &IncompatibleServerError{Addr: desc.Addr, Min: desc.MinWireVersion, Max: desc.MaxWireVersion}
}

// IncompatibleServerError reports a server whose wire-version range does
// not overlap this core's supported range.
type IncompatibleServerError struct {
	Addr     address.Address
	Min, Max int32
}

func (e *IncompatibleServerError) Error() string {
	return "server " + string(e.Addr) + " reports wire versions outside supported range"
}

var errStalePrimary = staleErr{}

type staleErr struct{}

func (staleErr) Error() string { return "stale primary: electionId/setVersion older than known maximum" }
