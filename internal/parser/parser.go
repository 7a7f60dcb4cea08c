// Package parser tokenizes raw command lines into a verb plus tagged
// tokens (flags, parameter values, positionals). Parsing is best-effort
// and never fails: malformed quoting degrades to a whitespace split.
package parser

import (
	"strings"

	"github.com/google/shlex"
)

// TokenKind classifies a parsed token.
type TokenKind int

const (
	// KindPositional is a plain argument token.
	KindPositional TokenKind = iota
	// KindFlag is a `-` or `--` prefixed option token.
	KindFlag
	// KindParameterValue is the value following a registered value-taking flag.
	KindParameterValue
)

// Token is a single parsed token with its classification.
type Token struct {
	Kind TokenKind
	Text string
	// ForFlag is the owning flag when Kind is KindParameterValue.
	ForFlag string
}

// ParsedCommand is the immutable result of parsing one command line.
type ParsedCommand struct {
	Verb   string
	Tokens []Token
}

// Args returns the raw token texts in order, excluding the verb.
func (pc ParsedCommand) Args() []string {
	args := make([]string, len(pc.Tokens))
	for i, t := range pc.Tokens {
		args[i] = t.Text
	}
	return args
}

// Parser splits command lines into classified tokens. The registry is
// consulted to decide which flags own the token that follows them.
type Parser struct {
	reg *Registry
}

// New creates a Parser backed by the given registry. A nil registry is
// replaced with an empty one so Parse always works.
func New(reg *Registry) *Parser {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Parser{reg: reg}
}

// Registry returns the shared flag registry.
func (p *Parser) Registry() *Registry {
	return p.reg
}

// Parse tokenizes line into a verb and classified tokens. The empty line
// yields an empty ParsedCommand. Quoted substrings stay single tokens;
// unbalanced quotes fall back to a plain whitespace split.
func (p *Parser) Parse(line string) ParsedCommand {
	fields := splitLine(line)
	if len(fields) == 0 {
		return ParsedCommand{}
	}

	pc := ParsedCommand{
		Verb:   fields[0],
		Tokens: make([]Token, 0, len(fields)-1),
	}

	pendingFlag := ""
	for _, f := range fields[1:] {
		switch {
		case pendingFlag != "":
			pc.Tokens = append(pc.Tokens, Token{
				Kind:    KindParameterValue,
				Text:    f,
				ForFlag: pendingFlag,
			})
			pendingFlag = ""
		case IsFlag(f):
			pc.Tokens = append(pc.Tokens, Token{Kind: KindFlag, Text: f})
			if p.reg.RequiresValue(f) {
				pendingFlag = f
			}
		default:
			pc.Tokens = append(pc.Tokens, Token{Kind: KindPositional, Text: f})
		}
	}

	return pc
}

// IsFlag reports whether token uses flag syntax (leading - or --).
// A bare "-" or "--" is not a flag.
func IsFlag(token string) bool {
	if !strings.HasPrefix(token, "-") {
		return false
	}
	trimmed := strings.TrimLeft(token, "-")
	return trimmed != ""
}

// splitLine splits a command line into fields, keeping quoted substrings
// together. shlex handles quoting; on error (e.g. unterminated quote) we
// degrade to strings.Fields rather than fail.
func splitLine(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	fields, err := shlex.Split(line)
	if err != nil || len(fields) == 0 {
		return strings.Fields(line)
	}
	return fields
}
