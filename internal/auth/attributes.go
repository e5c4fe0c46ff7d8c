package auth

import "strings"

// AttributeRole names the attribute that requests role-based authorization.
const AttributeRole = "role"

// SessionAttributes describes what a caller requires of a session beyond
// it being live.
type SessionAttributes interface {
	HasAttribute(key string) bool
	Attribute(key string) string
}

// NoAttributes requires nothing beyond a live session.
type NoAttributes struct{}

func (NoAttributes) HasAttribute(string) bool { return false }
func (NoAttributes) Attribute(string) string  { return "" }

// RoleAttributes requires the session's user to hold the named role.
type RoleAttributes string

func (r RoleAttributes) HasAttribute(key string) bool { return key == AttributeRole }

func (r RoleAttributes) Attribute(key string) string {
	if key == AttributeRole {
		return string(r)
	}
	return ""
}

// AttributeMap is a map-backed SessionAttributes. Empty values count as absent.
type AttributeMap map[string]string

func (m AttributeMap) HasAttribute(key string) bool {
	return strings.TrimSpace(m[key]) != ""
}

func (m AttributeMap) Attribute(key string) string {
	return strings.TrimSpace(m[key])
}
