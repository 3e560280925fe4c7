package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/strandlabs/strand/internal/domain"
)

// Edge conditions use a small closed grammar interpreted over session memory,
// never a host-language expression evaluator:
//
//	expr       := orClause
//	orClause   := andClause { "or" andClause }
//	andClause  := comparison { "and" comparison }
//	comparison := key ("==" | "!=") literal
//	literal    := quoted string | number | true | false | null
//
// "and" binds tighter than "or". Keys resolve against memory; a missing key
// compares as null.

type comparison struct {
	key    string
	negate bool
	value  any
}

// Condition is a parsed edge expression in disjunctive normal form.
type Condition struct {
	clauses [][]comparison
}

// ParseCondition parses expr. The grammar is closed: anything outside it is a
// parse error, reported at graph validation time rather than mid-execution.
func ParseCondition(expr string) (*Condition, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty condition expression")
	}

	p := &parser{tokens: tokens}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q", p.tokens[p.pos].text)
	}
	return cond, nil
}

// Evaluate interprets the condition over memory.
func (c *Condition) Evaluate(mem domain.Memory) bool {
	for _, clause := range c.clauses {
		matched := true
		for _, cmp := range clause {
			if !cmp.eval(mem) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func (cmp comparison) eval(mem domain.Memory) bool {
	got, ok := mem[cmp.key]
	if !ok {
		got = nil
	}
	equal := literalEqual(got, cmp.value)
	if cmp.negate {
		return !equal
	}
	return equal
}

// literalEqual compares a memory value against a parsed literal. Numbers are
// compared as float64 regardless of how they were stored.
func literalEqual(got, want any) bool {
	if gn, ok := asNumber(got); ok {
		if wn, ok := asNumber(want); ok {
			return gn == wn
		}
		return false
	}
	return got == want
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

type token struct {
	text   string
	quoted bool
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				j++
			}
			if j == len(expr) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{text: expr[i+1 : j], quoted: true})
			i = j + 1
		case c == '=' || c == '!':
			if i+1 >= len(expr) || expr[i+1] != '=' {
				return nil, fmt.Errorf("unexpected character %q", string(c))
			}
			tokens = append(tokens, token{text: expr[i : i+2]})
			i += 2
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t\n='\"!", rune(expr[j])) {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("unexpected character %q", string(c))
			}
			tokens = append(tokens, token{text: expr[i:j]})
			i = j
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) parseOr() (*Condition, error) {
	cond := &Condition{}
	clause, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	cond.clauses = append(cond.clauses, clause)

	for p.pos < len(p.tokens) && !p.tokens[p.pos].quoted && p.tokens[p.pos].text == "or" {
		p.pos++
		clause, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		cond.clauses = append(cond.clauses, clause)
	}
	return cond, nil
}

func (p *parser) parseAnd() ([]comparison, error) {
	var clause []comparison
	cmp, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	clause = append(clause, cmp)

	for p.pos < len(p.tokens) && !p.tokens[p.pos].quoted && p.tokens[p.pos].text == "and" {
		p.pos++
		cmp, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		clause = append(clause, cmp)
	}
	return clause, nil
}

func (p *parser) parseComparison() (comparison, error) {
	if p.pos+3 > len(p.tokens) {
		return comparison{}, fmt.Errorf("incomplete comparison")
	}

	keyTok := p.tokens[p.pos]
	if keyTok.quoted {
		return comparison{}, fmt.Errorf("comparison key must be a bare memory key, got string literal %q", keyTok.text)
	}
	opTok := p.tokens[p.pos+1]
	litTok := p.tokens[p.pos+2]
	p.pos += 3

	var negate bool
	switch opTok.text {
	case "==":
		negate = false
	case "!=":
		negate = true
	default:
		return comparison{}, fmt.Errorf("unsupported operator %q", opTok.text)
	}

	value, err := parseLiteral(litTok)
	if err != nil {
		return comparison{}, err
	}

	return comparison{key: keyTok.text, negate: negate, value: value}, nil
}

func parseLiteral(t token) (any, error) {
	if t.quoted {
		return t.text, nil
	}
	switch t.text {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if n, err := strconv.ParseFloat(t.text, 64); err == nil {
		return n, nil
	}
	return nil, fmt.Errorf("invalid literal %q (quote string values)", t.text)
}
