package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParamKind discriminates the session parameter union. Dialogflow session
// parameters arrive as arbitrary JSON; a closed set of variants keeps the
// truthiness rules in one place instead of scattered type switches.
type ParamKind int

const (
	ParamNull ParamKind = iota
	ParamBool
	ParamString
	ParamNumber
	ParamMap
	ParamList
)

// Param is one session parameter value as carried by the AI backend.
type Param struct {
	Kind ParamKind
	Bool bool
	Str  string
	Num  float64
	Map  map[string]Param
	List []Param
}

func NullParam() Param               { return Param{Kind: ParamNull} }
func BoolParam(v bool) Param         { return Param{Kind: ParamBool, Bool: v} }
func StringParam(v string) Param     { return Param{Kind: ParamString, Str: v} }
func NumberParam(v float64) Param    { return Param{Kind: ParamNumber, Num: v} }
func MapParam(v map[string]Param) Param { return Param{Kind: ParamMap, Map: v} }

// Truthy reports whether the value signals an affirmative flag: boolean
// true, the string "true" (case-insensitive), or a map containing any
// truthy value. Numbers and lists are never truthy.
func (p Param) Truthy() bool {
	switch p.Kind {
	case ParamBool:
		return p.Bool
	case ParamString:
		return strings.EqualFold(strings.TrimSpace(p.Str), "true")
	case ParamMap:
		for _, v := range p.Map {
			if v.Truthy() {
				return true
			}
		}
	}
	return false
}

// String returns the string variant's value, or "" for any other kind.
func (p Param) String() string {
	if p.Kind == ParamString {
		return p.Str
	}
	return ""
}

func (p Param) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ParamNull:
		return []byte("null"), nil
	case ParamBool:
		return json.Marshal(p.Bool)
	case ParamString:
		return json.Marshal(p.Str)
	case ParamNumber:
		return json.Marshal(p.Num)
	case ParamMap:
		return json.Marshal(p.Map)
	case ParamList:
		return json.Marshal(p.List)
	}
	return nil, fmt.Errorf("unknown param kind %d", p.Kind)
}

func (p *Param) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*p = Param{Kind: ParamNull}
		return nil
	}

	switch trimmed[0] {
	case '{':
		var m map[string]Param
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*p = Param{Kind: ParamMap, Map: m}
	case '[':
		var l []Param
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		*p = Param{Kind: ParamList, List: l}
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Param{Kind: ParamString, Str: s}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*p = Param{Kind: ParamBool, Bool: b}
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*p = Param{Kind: ParamNumber, Num: n}
	}
	return nil
}

// Params is the AI backend's carried session state for one conversation.
type Params map[string]Param
