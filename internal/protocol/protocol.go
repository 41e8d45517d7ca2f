package protocol

import "fmt"

// ID is a numeric ETP protocol namespace.
type ID uint16

const (
	ProtocolCore             ID = 0
	ProtocolChannelStreaming ID = 1
	ProtocolStore            ID = 4
	ProtocolGrowingObject    ID = 6
)

func (id ID) String() string {
	switch id {
	case ProtocolCore:
		return "Core"
	case ProtocolChannelStreaming:
		return "ChannelStreaming"
	case ProtocolStore:
		return "Store"
	case ProtocolGrowingObject:
		return "GrowingObject"
	default:
		return fmt.Sprintf("Protocol(%d)", uint16(id))
	}
}

// Role is one side of a protocol contract.
type Role string

const (
	RoleClient   Role = "client"
	RoleServer   Role = "server"
	RoleCustomer Role = "customer"
	RoleStore    Role = "store"
)

// CounterRole returns the role the remote peer plays against r.
func CounterRole(r Role) Role {
	switch r {
	case RoleClient:
		return RoleServer
	case RoleServer:
		return RoleClient
	case RoleCustomer:
		return RoleStore
	case RoleStore:
		return RoleCustomer
	}
	return r
}

// Version identifies a wire version of the protocol stack.
type Version struct {
	Major int32
	Minor int32
}

var (
	V11 = Version{Major: 1, Minor: 1}
	V12 = Version{Major: 1, Minor: 2}
)

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// Known capability keys. Both sides read only keys they know and ignore the rest.
const (
	CapMaxResponseCount         = "MaxResponseCount"
	CapMaxTransactionCount      = "MaxTransactionCount"
	CapTransactionTimeoutPeriod = "TransactionTimeoutPeriod"
	CapMaxFrameSize             = "MaxFrameSize"
)

// SupportedProtocol is one advertised (protocol, version, role) tuple.
type SupportedProtocol struct {
	Protocol     ID
	Version      Version
	Role         Role
	Capabilities map[string]int64
}

// ProtocolRole is the dedup identity of a SupportedProtocol.
type ProtocolRole struct {
	Protocol ID
	Role     Role
}

func (sp SupportedProtocol) Key() ProtocolRole {
	return ProtocolRole{Protocol: sp.Protocol, Role: sp.Role}
}

func (sp SupportedProtocol) native() map[string]any {
	caps := make(map[string]any, len(sp.Capabilities))
	for k, v := range sp.Capabilities {
		caps[k] = v
	}
	return map[string]any{
		"protocol": int32(sp.Protocol),
		"version": map[string]any{
			"major": sp.Version.Major,
			"minor": sp.Version.Minor,
		},
		"role":         string(sp.Role),
		"capabilities": caps,
	}
}

func supportedFromNative(m map[string]any) SupportedProtocol {
	sp := SupportedProtocol{
		Protocol: ID(ni32(m, "protocol")),
		Role:     Role(nstr(m, "role")),
	}
	if v := nmap(m, "version"); v != nil {
		sp.Version = Version{Major: ni32(v, "major"), Minor: ni32(v, "minor")}
	}
	if caps := nmap(m, "capabilities"); len(caps) > 0 {
		sp.Capabilities = make(map[string]int64, len(caps))
		for k, v := range caps {
			if n, ok := v.(int64); ok {
				sp.Capabilities[k] = n
			}
		}
	}
	return sp
}

func supportedListNative(list []SupportedProtocol) []any {
	out := make([]any, 0, len(list))
	for _, sp := range list {
		out = append(out, sp.native())
	}
	return out
}

func supportedListFromNative(v any) []SupportedProtocol {
	items, _ := v.([]any)
	out := make([]SupportedProtocol, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, supportedFromNative(m))
		}
	}
	return out
}

// Dedup removes duplicate (protocol, role) tuples, keeping the first occurrence.
func Dedup(list []SupportedProtocol) []SupportedProtocol {
	seen := make(map[ProtocolRole]bool, len(list))
	out := make([]SupportedProtocol, 0, len(list))
	for _, sp := range list {
		if seen[sp.Key()] {
			continue
		}
		seen[sp.Key()] = true
		out = append(out, sp)
	}
	return out
}
