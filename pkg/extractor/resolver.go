package extractor

import (
	stringpool "github.com/keboola/component-daktela/pkg/strings"
)

// StripIDPrefix recovers the raw API id from an id column value that may
// carry a server prefix, the parent endpoint name or its singular form.
// For server "acme" and parent "activities", all of
// "acme_activities_5001", "activities_5001", "activity_5001" and "5001"
// resolve to "5001".
func StripIDPrefix(value, server, parent string) string {
	if server != "" {
		value = stripPrefix(value, server+"_")
	}
	if parent == "" {
		return value
	}

	if stripped := stripPrefix(value, parent+"_"); stripped != value {
		return stripped
	}
	if singular := singularize(parent); singular != parent {
		if stripped := stripPrefix(value, singular+"_"); stripped != value {
			return stripped
		}
	}
	return value
}

// singularize derives the singular endpoint form used in some id prefixes:
// "activities" becomes "activity", "tickets" becomes "ticket".
func singularize(name string) string {
	if stringpool.HasSuffix(name, "ies") {
		return name[:len(name)-3] + "y"
	}
	if stringpool.HasSuffix(name, "s") {
		return name[:len(name)-1]
	}
	return name
}

func stripPrefix(s, prefix string) string {
	if stringpool.HasPrefix(s, prefix) {
		return s[len(prefix):]
	}
	return s
}

// invalidIDSet tracks ids of identity source records that were dropped as
// incomplete. Lookups consider the value as-is and with the server prefix
// removed.
type invalidIDSet struct {
	server string
	ids    map[string]bool
}

func newInvalidIDSet(server string) *invalidIDSet {
	return &invalidIDSet{
		server: server,
		ids:    make(map[string]bool),
	}
}

func (s *invalidIDSet) Add(id string) {
	if id != "" {
		s.ids[id] = true
	}
}

func (s *invalidIDSet) Contains(id string) bool {
	if s.ids[id] {
		return true
	}
	if s.server != "" {
		return s.ids[stripPrefix(id, s.server+"_")]
	}
	return false
}

func (s *invalidIDSet) Len() int {
	return len(s.ids)
}
