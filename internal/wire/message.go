// Package wire implements the tag-prefixed binary message framing: the
// MessageType discriminant, the common envelope header
// (source node, source address, bandwidth counter, event list, sequence
// number and flags), and the bit-level DirinfoSet/VictimSyncset framing.
// The typed message payloads are encoded by the packages that send
// them. Serialization is
// little-endian and length-prefixed for variable-length fields, and
// the bit-level layout is pinned by round-trip tests.
package wire

import "fmt"

// MessageType discriminates the payload carried by an Envelope. Values are
// grouped by family;
type MessageType uint16

const (
	MsgUnknown MessageType = iota

	// Data messages: {Local,Global,Redirected} x {Get,Put,Del} x {Req,Rsp}.
	MsgLocalGetReq
	MsgLocalGetRsp
	MsgLocalPutReq
	MsgLocalPutRsp
	MsgLocalDelReq
	MsgLocalDelRsp
	MsgGlobalGetReq
	MsgGlobalGetRsp
	MsgGlobalPutReq
	MsgGlobalPutRsp
	MsgGlobalDelReq
	MsgGlobalDelRsp
	MsgRedirectedGetReq
	MsgRedirectedGetRsp
	MsgRedirectedPutReq
	MsgRedirectedPutRsp
	MsgRedirectedDelReq
	MsgRedirectedDelRsp

	// Directory messages.
	MsgDirectoryLookupReq
	MsgDirectoryLookupRsp
	MsgDirectoryUpdateReq
	MsgDirectoryUpdateRsp

	// BestGuess messages.
	MsgAcquireWritelockReq
	MsgAcquireWritelockRsp
	MsgFinishBlockReq
	MsgFinishBlockRsp
	MsgBgplaceDirectoryUpdateReq
	MsgBgplaceDirectoryUpdateRsp
	MsgDirectoryAdmitReq
	MsgDirectoryAdmitRsp
	MsgPlacementTriggerReq
	MsgPlacementTriggerRsp
	MsgCoveredPlacementNotifyReq
	MsgCoveredPlacementNotifyRsp

	// Invalidation.
	MsgInvalidationReq
	MsgInvalidationRsp
)

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

var messageTypeNames = map[MessageType]string{
	MsgLocalGetReq:               "LocalGetReq",
	MsgLocalGetRsp:               "LocalGetRsp",
	MsgLocalPutReq:               "LocalPutReq",
	MsgLocalPutRsp:               "LocalPutRsp",
	MsgLocalDelReq:               "LocalDelReq",
	MsgLocalDelRsp:               "LocalDelRsp",
	MsgGlobalGetReq:              "GlobalGetReq",
	MsgGlobalGetRsp:              "GlobalGetRsp",
	MsgGlobalPutReq:              "GlobalPutReq",
	MsgGlobalPutRsp:              "GlobalPutRsp",
	MsgGlobalDelReq:              "GlobalDelReq",
	MsgGlobalDelRsp:              "GlobalDelRsp",
	MsgRedirectedGetReq:          "RedirectedGetReq",
	MsgRedirectedGetRsp:          "RedirectedGetRsp",
	MsgRedirectedPutReq:          "RedirectedPutReq",
	MsgRedirectedPutRsp:          "RedirectedPutRsp",
	MsgRedirectedDelReq:          "RedirectedDelReq",
	MsgRedirectedDelRsp:          "RedirectedDelRsp",
	MsgDirectoryLookupReq:        "DirectoryLookupReq",
	MsgDirectoryLookupRsp:        "DirectoryLookupRsp",
	MsgDirectoryUpdateReq:        "DirectoryUpdateReq",
	MsgDirectoryUpdateRsp:        "DirectoryUpdateRsp",
	MsgAcquireWritelockReq:       "AcquireWritelockReq",
	MsgAcquireWritelockRsp:       "AcquireWritelockRsp",
	MsgFinishBlockReq:            "FinishBlockReq",
	MsgFinishBlockRsp:            "FinishBlockRsp",
	MsgBgplaceDirectoryUpdateReq: "BgplaceDirectoryUpdateReq",
	MsgBgplaceDirectoryUpdateRsp: "BgplaceDirectoryUpdateRsp",
	MsgDirectoryAdmitReq:         "DirectoryAdmitReq",
	MsgDirectoryAdmitRsp:         "DirectoryAdmitRsp",
	MsgPlacementTriggerReq:       "PlacementTriggerReq",
	MsgPlacementTriggerRsp:       "PlacementTriggerRsp",
	MsgCoveredPlacementNotifyReq: "CoveredPlacementNotifyReq",
	MsgCoveredPlacementNotifyRsp: "CoveredPlacementNotifyRsp",
	MsgInvalidationReq:           "InvalidationReq",
	MsgInvalidationRsp:           "InvalidationRsp",
}

// Hitflag classifies the outcome of a get as observed by the requester.
type Hitflag uint8

const (
	HitflagLocalHit Hitflag = iota
	HitflagCooperativeHit
	HitflagCooperativeInvalid
	HitflagGlobalMiss
)

func (h Hitflag) String() string {
	switch h {
	case HitflagLocalHit:
		return "local-hit"
	case HitflagCooperativeHit:
		return "cooperative-hit"
	case HitflagCooperativeInvalid:
		return "cooperative-invalid"
	case HitflagGlobalMiss:
		return "global-miss"
	default:
		return fmt.Sprintf("Hitflag(%d)", uint8(h))
	}
}

// DirectoryInfo names one edge that (claims to) cache a key. It is
// serializable as a single unsigned 32-bit field
type DirectoryInfo uint32

// Addr is a wire-serializable ipv4 + port endpoint, matching the source
// network address field of the common envelope header.
type Addr struct {
	IP   [4]byte
	Port uint16
}

// String renders addr in dotted-quad:port form for use as an HTTP
// authority.
func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// CommonHeader is carried by every Envelope: a 64-bit sequence number
// and the propagation/background flags.
type CommonHeader struct {
	SeqNum                 uint64
	SkipPropagationLatency bool
	Background             bool
}

// Envelope is the outer frame of every wire message: a MessageType
// discriminant, source identity, a bandwidth-usage counter, an optional
// event list, and the CommonHeader. Typed payloads are carried in Payload
// as pre-encoded bytes, msgpack-encoded by the sending package
// (internal/cooperation, internal/beacon or internal/cacheserver).
type Envelope struct {
	Type            MessageType
	SourceNodeIndex uint32
	SourceAddr      Addr
	BandwidthUsage  uint64
	Header          CommonHeader
	Events          []Event
	Payload         []byte
}

// Event is a single instrumentation record piggybacked on a message.
// The core only carries these; recording and interpreting them belongs
// to the event-tracking boundary (see internal/telemetry).
type Event struct {
	Name      string
	AtNanos   int64
	EdgeIndex uint32
}
