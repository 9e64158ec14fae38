// Package description holds the SDAM data model (ServerDescription,
// TopologyDescription) and the server-selection algorithm that operates
// over it. See spec.md §3 (DATA MODEL) and §4.6-§4.7.
package description

import (
	"time"

	"github.com/corekv/docdriver/address"
)

// ServerKind enumerates the roles a server can present.
type ServerKind uint32

const (
	Unknown ServerKind = iota
	Standalone
	Mongos
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	RSGhost
	LoadBalancer
)

func (k ServerKind) String() string {
	switch k {
	case Standalone:
		return "Standalone"
	case Mongos:
		return "Mongos"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case RSGhost:
		return "RSGhost"
	case LoadBalancer:
		return "LoadBalancer"
	default:
		return "Unknown"
	}
}

// Range is an inclusive [Min, Max] bound, used for wire version support.
type Range struct {
	Min, Max int32
}

// Includes reports whether n falls within the range.
func (r Range) Includes(n int32) bool {
	return n >= r.Min && n <= r.Max
}

// SupportedWireVersions is the range of wire versions this core understands.
// Mirrors the teacher's compatibility window (3.6 through 7.0 server lines).
var SupportedWireVersions = Range{Min: 6, Max: 21}

// ElectionID is an opaque, monotonically-increasing replica-set election
// identifier. Only equality and the ">=" ordering implied by CompareElectionID
// are defined on it, matching the server's ObjectId semantics.
type ElectionID [12]byte

// CompareElectionID returns -1, 0, or 1 the way bytes.Compare does.
func CompareElectionID(a, b ElectionID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// TopologyVersion is the opaque (processId, counter) pair servers attach to
// hello/heartbeat replies so that stale responses racing a restart can be
// told apart from fresh ones.
type TopologyVersion struct {
	ProcessID [12]byte
	Counter   int64
}

// CompareTopologyVersion compares two TopologyVersions. It returns -1 if
// a is older than b, 0 if they are equal or incomparable (different
// ProcessID), and 1 if a is newer. A nil receiver/arg sorts as oldest.
func CompareTopologyVersion(a, b *TopologyVersion) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if a.ProcessID != b.ProcessID {
		return 0
	}
	switch {
	case a.Counter < b.Counter:
		return -1
	case a.Counter > b.Counter:
		return 1
	default:
		return 0
	}
}

// Tag is a single name/value pair used for replica-set tag-set matching.
type Tag struct {
	Name  string
	Value string
}

// TagSet is an ordered collection of Tags; a candidate server matches a tag
// set when it carries every tag in the set.
type TagSet []Tag

// ContainsAll reports whether every tag in ts is present, with an equal
// value, among the server's tags.
func (ts TagSet) ContainsAll(serverTags TagSet) bool {
	for _, want := range ts {
		found := false
		for _, have := range serverTags {
			if have.Name == want.Name && have.Value == want.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Server is an immutable snapshot of one server's observed state. A new
// observation always produces a brand new Server value; nothing about an
// existing one is ever mutated in place (spec.md §3, "Immutable once
// published").
type Server struct {
	Addr address.Address

	Kind ServerKind

	SetName    string
	SetVersion *int64
	ElectionID *ElectionID

	SessionTimeoutMinutes *int64

	LastUpdateTime time.Time
	LastWriteDate  time.Time

	AverageRTT    time.Duration
	AverageRTTSet bool

	MinWireVersion int32
	MaxWireVersion int32

	TopologyVersion *TopologyVersion

	Hosts    []address.Address
	Passives []address.Address
	Arbiters []address.Address
	Tags     TagSet

	Primary address.Address

	Hidden bool

	HelloOK            bool
	SaslSupportedMechs []string
	ServiceID          *[12]byte // present only for servers behind a load balancer

	Compressors []string

	HeartbeatInterval time.Duration

	LastError error
}

// NewDefaultServer returns the zero-value Unknown description used before
// the first successful or failed heartbeat.
func NewDefaultServer(addr address.Address) Server {
	return Server{Addr: addr, Kind: Unknown, LastUpdateTime: time.Time{}}
}

// NewServerFromError builds an Unknown description carrying a monitoring or
// handshake error, optionally preserving a previously-seen TopologyVersion
// so a racing, older error reply can't clobber a newer one (spec.md §4.6).
func NewServerFromError(addr address.Address, err error, tv *TopologyVersion) Server {
	return Server{
		Addr:            addr,
		Kind:            Unknown,
		LastError:       err,
		LastUpdateTime:  time.Now(),
		TopologyVersion: tv,
	}
}

// DataBearing reports whether the server can serve reads/writes (used to
// decide whether its pool should be marked Ready, spec.md §4.6 step 5).
func (s Server) DataBearing() bool {
	switch s.Kind {
	case Standalone, RSPrimary, RSSecondary, Mongos, LoadBalancer:
		return true
	default:
		return false
	}
}

// WireVersionsCompatible reports whether the server's advertised wire
// version range overlaps the range this core supports.
func (s Server) WireVersionsCompatible() bool {
	if s.Kind == Unknown {
		return true
	}
	return s.MaxWireVersion >= SupportedWireVersions.Min && s.MinWireVersion <= SupportedWireVersions.Max
}

// SessionsSupported reports whether the server advertises logical session
// support at all (a non-nil, non-zero SessionTimeoutMinutes).
func (s Server) SessionsSupported() bool {
	return s.SessionTimeoutMinutes != nil && *s.SessionTimeoutMinutes > 0
}
