package coreforge

import "strings"

// varEntry is one assignment (or positional token group) in a composed
// argument list.
type varEntry struct {
	key    string // empty for positional tokens, never deduplicated
	tokens []string
}

// varSet is an ordered assignment list with last-wins overrides:
// putting a key that is already present removes the old entry and
// appends the new one, so each variable appears exactly once and the
// override lands at the end of the flattened list. Keys compare
// case-insensitively.
type varSet struct {
	entries []varEntry
}

func (s *varSet) put(key string, tokens ...string) {
	if key != "" {
		for i, e := range s.entries {
			if strings.EqualFold(e.key, key) {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				break
			}
		}
	}
	s.entries = append(s.entries, varEntry{key: key, tokens: tokens})
}

func (s *varSet) has(key string) bool {
	for _, e := range s.entries {
		if strings.EqualFold(e.key, key) {
			return true
		}
	}
	return false
}

// flatten renders the final token list handed to the subprocess layer.
// Nothing downstream may reorder or deduplicate it.
func (s *varSet) flatten() []string {
	var out []string
	for _, e := range s.entries {
		out = append(out, e.tokens...)
	}
	return out
}

// putAssign records a make-style NAME=VALUE token. Tokens without an
// assignment (targets like "clean") stay positional.
func (s *varSet) putAssign(token string) {
	if i := strings.IndexByte(token, '='); i > 0 {
		s.put(token[:i], token)
	} else {
		s.put("", token)
	}
}

// putCMakeTokens records -DNAME[:TYPE]=VALUE style tokens, pairing a
// lone -D with the assignment that follows it so the pair moves as one
// unit on override.
func (s *varSet) putCMakeTokens(tokens []string) {
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "-D" && i+1 < len(tokens):
			s.put(cmakeKey(tokens[i+1]), tok, tokens[i+1])
			i++
		case strings.HasPrefix(tok, "-D") && len(tok) > 2:
			s.put(cmakeKey(tok[2:]), tok)
		default:
			s.put("", tok)
		}
	}
}

// cmakeKey extracts the cache-variable name from NAME[:TYPE]=VALUE, so
// -DFOO:STRING=x and -DFOO=y count as the same variable.
func cmakeKey(assign string) string {
	name := assign
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	return name
}
