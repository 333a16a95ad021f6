package core

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestSelectVersion_PicksHighestCommonVersion(t *testing.T) {
	local := []VersionID{"2.1.1", "2.2", "2.2.1"}
	remote := []VersionInformation{
		{Version: "3.0", URL: "https://peer/3.0"},
		{Version: "2.1.1", URL: "https://peer/2.1.1"},
		{Version: "2.2", URL: "https://peer/2.2"},
	}

	selected, err := SelectVersion(local, "2.2.1", remote)
	if err != nil {
		t.Fatalf("select version: %v", err)
	}
	if selected.Version != "2.2" || selected.URL != "https://peer/2.2" {
		t.Fatalf("expected 2.2, got %+v", selected)
	}
}

func TestSelectVersion_NoIntersection(t *testing.T) {
	_, err := SelectVersion([]VersionID{"2.1.1"}, "", []VersionInformation{{Version: "2.2", URL: "u"}})
	if !errors.Is(err, ErrNoCompatibleVersion) {
		t.Fatalf("expected no compatible version, got %v", err)
	}
}

func TestSelectVersion_EqualVersionsPreferConfiguredLabel(t *testing.T) {
	local := []VersionID{"2.2", "2.2.0"}
	remote := []VersionInformation{{Version: "2.2.0", URL: "b"}, {Version: "2.2", URL: "a"}}

	selected, err := SelectVersion(local, "2.2.0", remote)
	if err != nil {
		t.Fatalf("select version: %v", err)
	}
	if selected.Version != "2.2.0" {
		t.Fatalf("expected preferred label, got %q", selected.Version)
	}
	selected, _ = SelectVersion(local, "", remote)
	if selected.Version != "2.2" {
		t.Fatalf("expected lexicographic tie break, got %q", selected.Version)
	}
}

func TestVersionID_Compare(t *testing.T) {
	cases := []struct {
		left, right VersionID
		want        int
	}{
		{"2.2", "2.2.0", 0},
		{"2.1.1", "2.2", -1},
		{"2.10", "2.9", 1},
		{"3.0", "2.2.1", 1},
		{"2.2-rc1", "2.2", 0},
	}
	for _, tc := range cases {
		if got := tc.left.Compare(tc.right); got != tc.want {
			t.Fatalf("%q.Compare(%q) = %d, want %d", tc.left, tc.right, got, tc.want)
		}
	}
	if VersionID("").Valid() || VersionID("v2").Valid() || !VersionID("2.2").Valid() {
		t.Fatalf("unexpected validity")
	}
}

func TestSelectVersion_IsOrderIndependentAndMaximal(t *testing.T) {
	pool := []VersionID{"2.0", "2.1", "2.1.1", "2.2", "2.2.1", "3.0"}
	rapid.Check(t, func(t *rapid.T) {
		local := rapid.SliceOfNDistinct(rapid.SampledFrom(pool), 1, len(pool), rapid.ID[VersionID]).Draw(t, "local")
		remoteIDs := rapid.SliceOfNDistinct(rapid.SampledFrom(pool), 1, len(pool), rapid.ID[VersionID]).Draw(t, "remote")
		remote := make([]VersionInformation, 0, len(remoteIDs))
		for _, id := range remoteIDs {
			remote = append(remote, VersionInformation{Version: id, URL: "https://peer/" + string(id)})
		}
		reversed := make([]VersionInformation, len(remote))
		for i := range remote {
			reversed[len(remote)-1-i] = remote[i]
		}

		first, err1 := SelectVersion(local, "", remote)
		second, err2 := SelectVersion(local, "", reversed)
		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("selection depends on order: %v vs %v", err1, err2)
		}
		if err1 != nil {
			for _, id := range remoteIDs {
				for _, l := range local {
					if id == l {
						t.Fatalf("common version %q ignored", id)
					}
				}
			}
			return
		}
		if first.Version != second.Version {
			t.Fatalf("selection depends on order: %q vs %q", first.Version, second.Version)
		}
		for _, id := range remoteIDs {
			for _, l := range local {
				if id == l && id.Compare(first.Version) > 0 {
					t.Fatalf("selected %q while %q is common and higher", first.Version, id)
				}
			}
		}
	})
}

func TestDecodeResponse_KeepsDataRaw(t *testing.T) {
	envelope, err := DecodeResponse([]byte(`{"data":{"a":1},"status_code":1000,"timestamp":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.StatusCode != StatusSuccess || string(envelope.Data) != `{"a":1}` {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if _, err := DecodeResponse([]byte(`not json`)); err == nil {
		t.Fatalf("expected invalid body to fail")
	}
}
