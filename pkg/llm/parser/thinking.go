// Package parser separates reasoning blocks from answer text in streamed
// LLM output.
package parser

import (
	"strings"

	"github.com/entrhq/formforge/pkg/llm"
)

// reasoningTags are the block names treated as reasoning. Models differ in
// which one they emit.
var reasoningTags = []string{"thinking", "think"}

// ThinkingParser splits streamed content into reasoning and answer chunks.
// Tags may be split across chunks; a '<' that does not start a reasoning tag
// is passed through as content once that is known.
type ThinkingParser struct {
	pending    strings.Builder
	inThinking bool
}

// NewThinkingParser creates a parser in answer mode.
func NewThinkingParser() *ThinkingParser {
	return &ThinkingParser{}
}

// Parse consumes a content increment. Either result may be nil.
func (p *ThinkingParser) Parse(content string) (thinkingChunk, messageChunk *llm.StreamChunk) {
	var thinking, message strings.Builder
	emit := func(s string) {
		if p.inThinking {
			thinking.WriteString(s)
		} else {
			message.WriteString(s)
		}
	}

	for _, ch := range content {
		if p.pending.Len() == 0 {
			if ch == '<' {
				p.pending.WriteRune(ch)
			} else {
				emit(string(ch))
			}
			continue
		}

		if ch == '<' {
			// The buffered text was not a tag.
			emit(p.pending.String())
			p.pending.Reset()
			p.pending.WriteRune(ch)
			continue
		}

		p.pending.WriteRune(ch)
		tag := p.pending.String()
		switch {
		case ch == '>':
			p.pending.Reset()
			if open, ok := reasoningTag(tag); ok {
				p.inThinking = open
			} else {
				emit(tag)
			}
		case !couldBeReasoningTag(tag):
			p.pending.Reset()
			emit(tag)
		}
	}

	return chunk(thinking.String(), llm.ContentTypeThinking), chunk(message.String(), llm.ContentTypeMessage)
}

// Flush returns any partially buffered tag text as content of the current
// mode. Call it when the stream ends.
func (p *ThinkingParser) Flush() (thinkingChunk, messageChunk *llm.StreamChunk) {
	rest := p.pending.String()
	p.pending.Reset()
	if p.inThinking {
		return chunk(rest, llm.ContentTypeThinking), nil
	}
	return nil, chunk(rest, llm.ContentTypeMessage)
}

// IsInThinking reports whether the parser is inside a reasoning block.
func (p *ThinkingParser) IsInThinking() bool {
	return p.inThinking
}

// Reset prepares the parser for a new stream.
func (p *ThinkingParser) Reset() {
	p.pending.Reset()
	p.inThinking = false
}

// reasoningTag reports whether tag is a complete reasoning open or close tag,
// and which.
func reasoningTag(tag string) (open bool, ok bool) {
	for _, name := range reasoningTags {
		switch tag {
		case "<" + name + ">":
			return true, true
		case "</" + name + ">":
			return false, true
		}
	}
	return false, false
}

func couldBeReasoningTag(prefix string) bool {
	for _, name := range reasoningTags {
		if strings.HasPrefix("<"+name+">", prefix) || strings.HasPrefix("</"+name+">", prefix) {
			return true
		}
	}
	return false
}

func chunk(s string, typ llm.ContentType) *llm.StreamChunk {
	if s == "" {
		return nil
	}
	return &llm.StreamChunk{Content: s, Type: typ}
}
