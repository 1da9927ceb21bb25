package main

import (
	"fmt"
	"strings"
)

// Every durable key in the shared store is built against a named schema, so
// typos and missing segments fail at the call site instead of producing
// orphaned keys. Keys serialize as segments joined by "::".

type segmentKind int

const (
	segFixed segmentKind = iota
	segField
)

// KeySegment is one position in a key pattern: either a fixed token drawn
// from a set of allowed values, or a named free-form field.
type KeySegment struct {
	kind  segmentKind
	name  string
	oneOf []string
}

func fixedSeg(values ...string) KeySegment {
	return KeySegment{kind: segFixed, oneOf: values}
}

func fieldSeg(name string) KeySegment {
	return KeySegment{kind: segField, name: name}
}

func (s KeySegment) describe() string {
	if s.kind == segField {
		return "<" + s.name + ">"
	}
	return strings.Join(s.oneOf, "|")
}

func (s KeySegment) matches(value string) bool {
	if s.kind == segField {
		return value != ""
	}
	for _, allowed := range s.oneOf {
		if allowed == value {
			return true
		}
	}
	return false
}

// KeySchema is an ordered base pattern optionally followed by a set of
// allowed extensions. The base alone is a valid key (used as a pattern
// prefix for scans and cleanup).
type KeySchema struct {
	basePattern       []KeySegment
	allowedExtensions [][]KeySegment
}

var keySchemas = map[string]*KeySchema{
	"game_code": {
		basePattern: []KeySegment{fixedSeg("game_code"), fieldSeg("code")},
	},
	"player_to_game": {
		basePattern: []KeySegment{fixedSeg("player_to_game"), fieldSeg("player_id")},
	},
	"player_auth": {
		basePattern: []KeySegment{fixedSeg("player_auth"), fieldSeg("player_id")},
	},
	"player_usernames": {
		basePattern: []KeySegment{fixedSeg("player_usernames"), fieldSeg("player_id")},
	},
	"game_channel": {
		basePattern: []KeySegment{fixedSeg("game_channel"), fieldSeg("game_id")},
	},
	"game": {
		basePattern: []KeySegment{fixedSeg("game"), fieldSeg("game_id")},
		allowedExtensions: [][]KeySegment{
			{fixedSeg("host_id")},
			{fixedSeg("code")},
			{fixedSeg("players")},
			{fixedSeg("max_players")},
			{fixedSeg("created_at")},
		},
	},
	"team_draft": {
		basePattern: []KeySegment{fixedSeg("team_draft"), fieldSeg("game_id")},
		allowedExtensions: [][]KeySegment{
			{fixedSeg("yapper_id")},
			{fixedSeg("yapper_index")},
			{fixedSeg("max_rounds")},
			{fixedSeg("phase")},
			{fixedSeg("player_points")},
			{
				fixedSeg("round"),
				fixedSeg("round", "pool", "competition", "team_size", "starting_drafter_id", "current_drafter_id"),
			},
			{
				fixedSeg("round"),
				fixedSeg("player_to_picks"),
				fieldSeg("player_id"),
			},
		},
	},
	"mind_match": {
		basePattern: []KeySegment{fixedSeg("mind_match"), fieldSeg("game_id")},
		allowedExtensions: [][]KeySegment{
			{fixedSeg("asker_id")},
			{fixedSeg("phase")},
			{fixedSeg("question")},
			{fixedSeg("answers")},
		},
	},
}

// KeyBuilder accumulates field values against a schema. It is pure: no I/O
// happens until the finished key is handed to the store.
type KeyBuilder struct {
	schema     *KeySchema
	schemaName string
	parts      []string
	baseIdx    int
	extVals    []string
	candidates []int
	err        error
}

// key starts a builder for the named schema. Errors are deferred to
// Finish so call sites can chain without intermediate checks.
func key(schemaName string) *KeyBuilder {
	schema, ok := keySchemas[schemaName]
	if !ok {
		return &KeyBuilder{err: fmt.Errorf("unknown key schema %q", schemaName)}
	}

	b := &KeyBuilder{
		schema:     schema,
		schemaName: schemaName,
	}
	for i := range schema.allowedExtensions {
		b.candidates = append(b.candidates, i)
	}
	b.fillFixed()

	return b
}

// fillFixed consumes base segments that have exactly one allowed value;
// those never need a caller-supplied value.
func (b *KeyBuilder) fillFixed() {
	for b.baseIdx < len(b.schema.basePattern) {
		seg := b.schema.basePattern[b.baseIdx]
		if seg.kind != segFixed || len(seg.oneOf) != 1 {
			return
		}
		b.parts = append(b.parts, seg.oneOf[0])
		b.baseIdx++
	}
}

// Field supplies the next key segment value.
func (b *KeyBuilder) Field(value string) *KeyBuilder {
	if b.err != nil {
		return b
	}
	if value == "" {
		b.err = fmt.Errorf("key schema %q: empty segment value", b.schemaName)
		return b
	}

	if b.baseIdx < len(b.schema.basePattern) {
		seg := b.schema.basePattern[b.baseIdx]
		if !seg.matches(value) {
			b.err = fmt.Errorf("key schema %q: value %q not allowed for segment %s",
				b.schemaName, value, seg.describe())
			return b
		}
		b.parts = append(b.parts, value)
		b.baseIdx++
		b.fillFixed()
		return b
	}

	if len(b.schema.allowedExtensions) == 0 {
		b.err = fmt.Errorf("key schema %q: no extension segments allowed, got %q", b.schemaName, value)
		return b
	}

	pos := len(b.extVals)
	var remaining []int
	for _, idx := range b.candidates {
		ext := b.schema.allowedExtensions[idx]
		if pos < len(ext) && ext[pos].matches(value) {
			remaining = append(remaining, idx)
		}
	}

	if len(remaining) == 0 {
		b.err = fmt.Errorf("key schema %q: value %q matches no extension at position %d (alternatives: %s)",
			b.schemaName, value, pos, b.alternativesAt(pos))
		return b
	}

	b.candidates = remaining
	b.extVals = append(b.extVals, value)

	return b
}

// alternativesAt enumerates what the still-live candidates would have
// accepted at the given extension position.
func (b *KeyBuilder) alternativesAt(pos int) string {
	var alts []string
	for _, idx := range b.candidates {
		ext := b.schema.allowedExtensions[idx]
		if pos < len(ext) {
			alts = append(alts, ext[pos].describe())
		}
	}
	if len(alts) == 0 {
		return "none"
	}
	return strings.Join(alts, ", ")
}

// Finish validates completeness and returns the serialized key.
func (b *KeyBuilder) Finish() (string, error) {
	if b.err != nil {
		return "", b.err
	}

	if b.baseIdx < len(b.schema.basePattern) {
		seg := b.schema.basePattern[b.baseIdx]
		return "", fmt.Errorf("key schema %q: missing value for segment %s", b.schemaName, seg.describe())
	}

	if len(b.extVals) == 0 {
		return strings.Join(b.parts, "::"), nil
	}

	var complete []int
	for _, idx := range b.candidates {
		if len(b.schema.allowedExtensions[idx]) == len(b.extVals) {
			complete = append(complete, idx)
		}
	}

	switch len(complete) {
	case 1:
		return strings.Join(append(b.parts, b.extVals...), "::"), nil
	case 0:
		return "", fmt.Errorf("key schema %q: incomplete extension, next segment must be one of: %s",
			b.schemaName, b.alternativesAt(len(b.extVals)))
	default:
		return "", fmt.Errorf("key schema %q: ambiguous extension %q", b.schemaName, strings.Join(b.extVals, "::"))
	}
}
