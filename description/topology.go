package description

import (
	"fmt"

	"github.com/corekv/docdriver/address"
)

// TopologyKind enumerates the shapes a deployment can take.
type TopologyKind uint32

const (
	TopologyUnknown TopologyKind = iota
	Single
	ReplicaSetWithPrimary
	ReplicaSetNoPrimary
	Sharded
	LoadBalanced
)

func (k TopologyKind) String() string {
	switch k {
	case Single:
		return "Single"
	case ReplicaSetWithPrimary:
		return "ReplicaSetWithPrimary"
	case ReplicaSetNoPrimary:
		return "ReplicaSetNoPrimary"
	case Sharded:
		return "Sharded"
	case LoadBalanced:
		return "LoadBalanced"
	default:
		return "Unknown"
	}
}

// ClusterTime is the opaque gossiped (timestamp, signature) pair. Only
// the raw bytes of the BSON $clusterTime subdocument are retained; the
// core never inspects the signature, only compares the embedded
// clusterTime timestamp for monotonic-max purposes.
type ClusterTime struct {
	T, I uint32 // the BSON Timestamp embedded at clusterTime.clusterTime
	Raw  []byte // the full $clusterTime subdocument, gossiped back verbatim
}

// After reports whether ct is strictly newer than other. A zero-value
// ClusterTime is always considered the oldest possible value.
func (ct ClusterTime) After(other ClusterTime) bool {
	if ct.T != other.T {
		return ct.T > other.T
	}
	return ct.I > other.I
}

// MaxClusterTime returns whichever of a, b is newer.
func MaxClusterTime(a, b ClusterTime) ClusterTime {
	if a.After(b) {
		return a
	}
	return b
}

// Topology is an immutable snapshot of the aggregate cluster view. A new
// snapshot is published by replacing the pointer the Topology's watchers
// observe; nothing about an existing snapshot is mutated (spec.md §3).
type Topology struct {
	Kind                TopologyKind
	SetName             string
	MaxSetVersion       *int64
	MaxElectionID       *ElectionID
	CompatibilityError  error
	ClusterTime         ClusterTime
	CompatibilityChecked bool

	Servers map[address.Address]Server
}

// NewUnknownTopology returns the empty, pre-discovery snapshot.
func NewUnknownTopology() Topology {
	return Topology{Kind: TopologyUnknown, Servers: map[address.Address]Server{}}
}

// Clone returns a deep-enough copy suitable as the basis for the next
// snapshot: the Servers map is copied so the old snapshot remains
// unaffected by edits to the new one.
func (t Topology) Clone() Topology {
	cp := t
	cp.Servers = make(map[address.Address]Server, len(t.Servers))
	for k, v := range t.Servers {
		cp.Servers[k] = v
	}
	return cp
}

// Primary returns the current RSPrimary, if any.
func (t Topology) Primary() (Server, bool) {
	for _, s := range t.Servers {
		if s.Kind == RSPrimary {
			return s, true
		}
	}
	return Server{}, false
}

// ValidateInvariants checks the structural invariants spec.md §3 requires:
// at most one RSPrimary when WithPrimary, and (for non-Sharded topologies)
// every member is an RS kind or Unknown.
func (t Topology) ValidateInvariants() error {
	primaries := 0
	for _, s := range t.Servers {
		if s.Kind == RSPrimary {
			primaries++
		}
		if t.Kind != Sharded {
			switch s.Kind {
			case RSPrimary, RSSecondary, RSArbiter, RSOther, RSGhost, Unknown:
			default:
				if t.Kind == ReplicaSetWithPrimary || t.Kind == ReplicaSetNoPrimary {
					return fmt.Errorf("description: non-RS member %s in replica-set topology", s.Addr)
				}
			}
		}
	}
	if t.Kind == ReplicaSetWithPrimary && primaries > 1 {
		return fmt.Errorf("description: %d primaries observed, at most one allowed", primaries)
	}
	return nil
}

// HasCompatibilityError reports whether any member advertises a wire
// version range incompatible with this core (spec.md §4.6).
func (t Topology) HasCompatibilityError() bool {
	return t.CompatibilityError != nil
}
