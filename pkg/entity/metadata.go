package entity

import "fmt"

// Kind enumerates the variants a metadata Value can hold. Adapter-produced
// metadata is free-form by contract, but representing it as an untyped
// map[string]interface{} makes equality and JSON round-trips partial: a
// float64 decoded back from JSON never compares equal to the int that was
// encoded. Value closes that gap.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindList
	KindMap
)

// Value is a small tagged union over the handful of shapes adapter metadata
// actually takes: a scalar string/int/bool, a list of strings (e.g.
// exposed_ports, container_ids), or a nested string map.
type Value struct {
	kind Kind
	str  string
	i    int64
	b    bool
	list []string
	m    map[string]string
}

// String constructs a string-valued metadata entry.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int constructs an int-valued metadata entry.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Bool constructs a bool-valued metadata entry.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List constructs a list-of-string metadata entry. The slice is copied.
func List(items []string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map constructs a nested string-map metadata entry. The map is copied.
func Map(m map[string]string) Value {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string form of v regardless of kind: the literal
// string for KindString, a decimal rendering for KindInt/KindBool, and a
// best-effort join for KindList/KindMap. Used by adapters and correlation
// passes that only care about substring/equality checks and don't need the
// structured form.
func (v Value) AsString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindList:
		out := ""
		for i, s := range v.list {
			if i > 0 {
				out += ","
			}
			out += s
		}
		return out
	case KindMap:
		out := ""
		first := true
		for k, mv := range v.m {
			if !first {
				out += ","
			}
			out += k + "=" + mv
			first = false
		}
		return out
	default:
		return ""
	}
}

// AsInt returns the int form of v and whether v was KindInt.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

// AsBool returns the bool form of v and whether v was KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsList returns the list form of v and whether v was KindList.
func (v Value) AsList() ([]string, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]string, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// AsMap returns the map form of v and whether v was KindMap.
func (v Value) AsMap() (map[string]string, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	cp := make(map[string]string, len(v.m))
	for k, mv := range v.m {
		cp[k] = mv
	}
	return cp, true
}

// Equal reports whether v and other hold the same kind and content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == other.str
	case KindInt:
		return v.i == other.i
	case KindBool:
		return v.b == other.b
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != other.list[i] {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, mv := range v.m {
			if other.m[k] != mv {
				return false
			}
		}
		return true
	}
	return true
}

// StringSetEqual reports whether a and b contain the same set of strings,
// ignoring order and duplicates. Used by the Diff Engine for the
// exposed_ports set-equality comparison.
func StringSetEqual(a, b []string) bool {
	setA := map[string]struct{}{}
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := map[string]struct{}{}
	for _, s := range b {
		setB[s] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for s := range setA {
		if _, ok := setB[s]; !ok {
			return false
		}
	}
	return true
}

// Reserved metadata keys the core recognizes; adapters may use others
// freely, but the core never interprets them.
const (
	MetaDockerID         = "docker_id"
	MetaContainerID      = "container_id"
	MetaContainerImage   = "container_image"
	MetaExposedPorts     = "exposed_ports"
	MetaProxmoxVMID      = "proxmox_vmid"
	MetaProxmoxNode      = "proxmox_node"
	MetaPortainerStackID = "portainer_stack_id"
	MetaAPIReportedIP    = "api_reported_ip"
	MetaMACAddress       = "mac_address"
	MetaScanError        = "scan_error"
	MetaScanErrorReason  = "scan_error_reason"
	MetaScanException    = "scan_exception"
	MetaContainerIDs     = "container_ids"
	MetaHintTokenEnv     = "hint_token_env"
	MetaReason           = "reason"
	MetaVersion          = "version"
)
