package oauth

import (
	"slices"
	"strings"
)

// ScopePolicy decides which scopes a request may obtain. With no Available
// list every requested scope is accepted.
type ScopePolicy struct {
	// Available lists the scopes clients may request
	Available []string

	// Default is granted when the request names no scope
	Default []string
}

// Resolve parses a space-separated scope parameter against the policy
func (p ScopePolicy) Resolve(requested string) ([]string, *OAuthError) {
	scopes := ParseScope(requested)
	if len(scopes) == 0 {
		return slices.Clone(p.Default), nil
	}

	if len(p.Available) > 0 {
		for _, s := range scopes {
			if !slices.Contains(p.Available, s) {
				return nil, ErrInvalidScope("scope " + s + " is not available")
			}
		}
	}
	return scopes, nil
}

// ParseScope splits a scope parameter, dropping duplicates but keeping order
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// isSubset reports whether every element of requested is in granted
func isSubset(requested, granted []string) bool {
	for _, s := range requested {
		if !slices.Contains(granted, s) {
			return false
		}
	}
	return true
}
