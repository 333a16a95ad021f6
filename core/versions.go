package core

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// VersionID is an OCPI version label such as "2.2.1". Ordering compares
// the leading digits of each dot separated segment.
type VersionID string

func (v VersionID) segments() []int {
	parts := strings.Split(strings.TrimSpace(string(v)), ".")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		end := 0
		for end < len(part) && part[end] >= '0' && part[end] <= '9' {
			end++
		}
		value, err := strconv.Atoi(part[:end])
		if err != nil {
			value = 0
		}
		out = append(out, value)
	}
	return out
}

func (v VersionID) Valid() bool {
	trimmed := strings.TrimSpace(string(v))
	return trimmed != "" && trimmed[0] >= '0' && trimmed[0] <= '9'
}

// Compare returns -1, 0 or 1. Missing trailing segments count as zero, so
// "2.2" and "2.2.0" compare equal.
func (v VersionID) Compare(other VersionID) int {
	left, right := v.segments(), other.segments()
	for i := 0; i < len(left) || i < len(right); i++ {
		var a, b int
		if i < len(left) {
			a = left[i]
		}
		if i < len(right) {
			b = right[i]
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

func (v VersionID) Major() int {
	segments := v.segments()
	if len(segments) == 0 {
		return 0
	}
	return segments[0]
}

func (v VersionID) Minor() int {
	segments := v.segments()
	if len(segments) < 2 {
		return 0
	}
	return segments[1]
}

type VersionInformation struct {
	Version VersionID `json:"version"`
	URL     string    `json:"url"`
}

type InterfaceRole string

const (
	InterfaceRoleSender   InterfaceRole = "SENDER"
	InterfaceRoleReceiver InterfaceRole = "RECEIVER"
)

type Endpoint struct {
	Identifier string        `json:"identifier"`
	Role       InterfaceRole `json:"role,omitempty"`
	URL        string        `json:"url"`
}

type VersionDetail struct {
	Version   VersionID  `json:"version"`
	Endpoints []Endpoint `json:"endpoints"`
}

const (
	StatusSuccess              = 1000
	StatusClientError          = 2000
	StatusInvalidParameters    = 2001
	StatusNotEnoughInformation = 2002
	StatusUnknownLocation      = 2003
	StatusUnknownToken         = 2004
	StatusServerError          = 3000
	StatusUnableToUseClientAPI = 3001
	StatusUnsupportedVersion   = 3002
	StatusNoMatchingEndpoints  = 3003
)

// Response is the OCPI envelope wrapped around every payload.
type Response[T any] struct {
	Data          T      `json:"data,omitempty"`
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message,omitempty"`
	Timestamp     string `json:"timestamp"`
}

func NewResponse[T any](data T, statusCode int, message string, now time.Time) Response[T] {
	return Response[T]{
		Data:          data,
		StatusCode:    statusCode,
		StatusMessage: strings.TrimSpace(message),
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
}

// DecodeResponse parses an envelope and keeps data raw for the caller.
func DecodeResponse(body []byte) (Response[json.RawMessage], error) {
	var envelope Response[json.RawMessage]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Response[json.RawMessage]{}, err
	}
	return envelope, nil
}

// SelectVersion picks the highest version both sides support. Versions that
// compare equal are broken by the preferred label, then lexicographically.
func SelectVersion(local []VersionID, preferred VersionID, remote []VersionInformation) (VersionInformation, error) {
	supported := make(map[VersionID]struct{}, len(local))
	for _, version := range local {
		supported[VersionID(strings.TrimSpace(string(version)))] = struct{}{}
	}

	candidates := make([]VersionInformation, 0, len(remote))
	for _, info := range remote {
		info.Version = VersionID(strings.TrimSpace(string(info.Version)))
		if _, ok := supported[info.Version]; ok {
			candidates = append(candidates, info)
		}
	}
	if len(candidates) == 0 {
		remoteIDs := make([]VersionID, 0, len(remote))
		for _, info := range remote {
			remoteIDs = append(remoteIDs, info.Version)
		}
		return VersionInformation{}, noCompatibleVersionError(local, remoteIDs)
	}

	preferred = VersionID(strings.TrimSpace(string(preferred)))
	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := candidates[i].Version, candidates[j].Version
		if cmp := left.Compare(right); cmp != 0 {
			return cmp > 0
		}
		if left == preferred || right == preferred {
			return left == preferred && right != preferred
		}
		return left < right
	})
	return candidates[0], nil
}

func versionStrings(versions []VersionID) []string {
	out := make([]string, 0, len(versions))
	for _, version := range versions {
		out = append(out, string(version))
	}
	return out
}
