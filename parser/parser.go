// Package parser implements the Scribble 2.0 grammar described in
// spec.md §4.1: modules, imports, global protocol declarations, message
// transfers (with multi-receiver), `choice at R`, `par ... and ...`,
// `rec L`/`continue L`, and `do P(args)`.
package parser

import (
	"github.com/mpst-go/mpst/ast"
)

// Parse turns Scribble source text into a Module, or returns the
// ParseError(s) encountered. It implements parse(source) -> Module |
// ParseError+ from spec.md §4.1/§6.
func Parse(source string) (*ast.Module, error) {
	toks, lexErr := newLexer(source).lex()
	if lexErr != nil {
		return nil, ParseErrors{lexErr}
	}
	p := &parser{toks: toks}
	mod := p.parseModule()
	if len(p.errs) > 0 {
		return nil, p.errs
	}
	return mod, nil
}

type parser struct {
	toks []token
	pos  int
	errs ParseErrors
}

func (p *parser) cur() token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos]
}

func (p *parser) peekAt(offset int) token {
	i := p.pos + offset
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[i]
}

func (p *parser) next() token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) atEOF() bool {
	return p.cur().kind == tokEOF
}

func (p *parser) pos_() ast.Pos {
	t := p.cur()
	return ast.Pos{Line: t.line, Column: t.col}
}

func describe(t token) string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return "'" + t.text + "'"
}

func (p *parser) errorf(expected string) {
	t := p.cur()
	p.errs = append(p.errs, &ParseError{Line: t.line, Column: t.col, Expected: expected, Found: describe(t)})
}

// expectKeyword consumes a keyword token with the given text, recording
// an error and not advancing if it doesn't match.
func (p *parser) expectKeyword(kw string) bool {
	t := p.cur()
	if t.kind == tokKeyword && t.text == kw {
		p.next()
		return true
	}
	p.errorf("'" + kw + "'")
	return false
}

func (p *parser) expectKind(k tokenKind, desc string) (token, bool) {
	t := p.cur()
	if t.kind == k {
		p.next()
		return t, true
	}
	p.errorf(desc)
	return t, false
}

func (p *parser) expectIdent() (string, ast.Pos, bool) {
	t := p.cur()
	pos := ast.Pos{Line: t.line, Column: t.col}
	if t.kind == tokIdent {
		p.next()
		return t.text, pos, true
	}
	p.errorf("identifier")
	return "", pos, false
}

// isKeyword reports whether the current token is the keyword kw.
func (p *parser) isKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokKeyword && t.text == kw
}

// syncTo skips tokens until one of the given kinds is seen (inclusive of
// that token remaining unconsumed), or EOF. Used for statement-level
// error recovery: once a `;` or `}` is found, the next production can be
// parsed unambiguously.
func (p *parser) syncTo(kinds ...tokenKind) {
	for !p.atEOF() {
		t := p.cur()
		for _, k := range kinds {
			if t.kind == k {
				return
			}
		}
		p.next()
	}
}

// ---- grammar ----

func (p *parser) parseModule() *ast.Module {
	mod := &ast.Module{}
	for p.isKeyword("import") {
		mod.Imports = append(mod.Imports, p.parseImport())
	}
	for !p.atEOF() {
		if !p.isKeyword("protocol") && !p.isKeyword("global") {
			p.errorf("'protocol'")
			p.next()
			p.syncTo(tokKeyword)
			if p.atEOF() {
				break
			}
			continue
		}
		proto := p.parseProtocol()
		if proto != nil {
			mod.Protocols = append(mod.Protocols, proto)
		}
	}
	return mod
}

func (p *parser) parseImport() ast.Import {
	pos := p.pos_()
	p.expectKeyword("import")
	name, _, _ := p.expectIdent()
	if p.cur().kind == tokSemi {
		p.next()
	}
	return ast.Import{Name: name, Pos: pos}
}

// parseProtocol parses `[global] protocol Name(role A, role B, ...)
// [extends Other] { body }`. The `global` prefix and the `extends`
// suffix are tolerated but not semantically meaningful here: a
// `protocol` declaration at module scope is always a global protocol,
// and `extends` is parsed (to keep the 5-token-prefix shared with a
// plain declaration from committing early) but otherwise ignored, since
// spec.md does not define protocol inheritance semantics.
func (p *parser) parseProtocol() *ast.Protocol {
	pos := p.pos_()
	if p.isKeyword("global") {
		p.next()
	}
	if !p.expectKeyword("protocol") {
		p.syncTo(tokLBrace, tokKeyword)
		return nil
	}
	name, _, ok := p.expectIdent()
	if !ok {
		p.syncTo(tokLBrace, tokKeyword)
		return nil
	}
	if _, ok := p.expectKind(tokLParen, "'('"); !ok {
		p.syncTo(tokLBrace, tokKeyword)
		return nil
	}
	var roles []ast.Role
	if p.cur().kind != tokRParen {
		for {
			rpos := p.pos_()
			if !p.expectKeyword("role") {
				break
			}
			rname, _, ok := p.expectIdent()
			if !ok {
				break
			}
			roles = append(roles, ast.Role{Name: rname, Pos: rpos})
			if p.cur().kind == tokComma {
				p.next()
				continue
			}
			break
		}
	}
	p.expectKind(tokRParen, "')'")
	if p.isKeyword("extends") {
		p.next()
		p.expectIdent()
	}
	if _, ok := p.expectKind(tokLBrace, "'{'"); !ok {
		p.syncTo(tokKeyword)
		return &ast.Protocol{Name: name, Roles: roles, Body: ast.Empty(pos), Pos: pos}
	}
	body := p.parseInteractionSeq()
	p.expectKind(tokRBrace, "'}'")
	return &ast.Protocol{Name: name, Roles: roles, Body: body, Pos: pos}
}

// parseInteractionSeq parses a `;`-separated (trailing `;` optional)
// sequence of interactions up to (but not consuming) the closing `}`.
func (p *parser) parseInteractionSeq() ast.Interaction {
	pos := p.pos_()
	var items []ast.Interaction
	for p.cur().kind != tokRBrace && !p.atEOF() {
		before := p.pos
		it, ok := p.parseInteraction()
		if ok {
			items = append(items, it)
		}
		if p.cur().kind == tokSemi {
			p.next()
		}
		if p.pos == before {
			// Guarantee forward progress even on a production we can't
			// recognize at all.
			p.errorf("interaction")
			p.next()
			p.syncTo(tokSemi, tokRBrace)
		}
	}
	if len(items) == 0 {
		return ast.Empty(pos)
	}
	return ast.Sequence(pos, items...)
}

func (p *parser) parseInteraction() (ast.Interaction, bool) {
	switch {
	case p.isKeyword("choice"):
		return p.parseChoice()
	case p.isKeyword("par"):
		return p.parseParallel()
	case p.isKeyword("rec"):
		return p.parseRecursion()
	case p.isKeyword("continue"):
		return p.parseContinue()
	case p.isKeyword("do"):
		return p.parseSubProtocolCall()
	case p.cur().kind == tokIdent:
		return p.parseMessage()
	default:
		p.errorf("interaction")
		return ast.Interaction{}, false
	}
}

func (p *parser) parseChoice() (ast.Interaction, bool) {
	pos := p.pos_()
	p.expectKeyword("choice")
	p.expectKeyword("at")
	decider, _, _ := p.expectIdent()
	p.expectKind(tokLBrace, "'{'")
	first := p.parseInteractionSeq()
	p.expectKind(tokRBrace, "'}'")
	branches := []ast.Interaction{first}
	for p.isKeyword("or") {
		p.next()
		p.expectKind(tokLBrace, "'{'")
		b := p.parseInteractionSeq()
		p.expectKind(tokRBrace, "'}'")
		branches = append(branches, b)
	}
	return ast.ChoiceInteraction(&ast.Choice{Decider: decider, Branches: branches, Pos: pos}), true
}

func (p *parser) parseParallel() (ast.Interaction, bool) {
	pos := p.pos_()
	p.expectKeyword("par")
	p.expectKind(tokLBrace, "'{'")
	first := p.parseInteractionSeq()
	p.expectKind(tokRBrace, "'}'")
	branches := []ast.Interaction{first}
	for p.isKeyword("and") {
		p.next()
		p.expectKind(tokLBrace, "'{'")
		b := p.parseInteractionSeq()
		p.expectKind(tokRBrace, "'}'")
		branches = append(branches, b)
	}
	return ast.ParallelInteraction(&ast.Parallel{Branches: branches, Pos: pos}), true
}

func (p *parser) parseRecursion() (ast.Interaction, bool) {
	pos := p.pos_()
	p.expectKeyword("rec")
	label, _, _ := p.expectIdent()
	p.expectKind(tokLBrace, "'{'")
	body := p.parseInteractionSeq()
	p.expectKind(tokRBrace, "'}'")
	return ast.RecursionInteraction(&ast.Recursion{Label: label, Body: body, Pos: pos}), true
}

func (p *parser) parseContinue() (ast.Interaction, bool) {
	pos := p.pos_()
	p.expectKeyword("continue")
	label, _, ok := p.expectIdent()
	if !ok {
		return ast.Interaction{}, false
	}
	return ast.ContinueInteraction(&ast.Continue{Label: label, Pos: pos}), true
}

func (p *parser) parseSubProtocolCall() (ast.Interaction, bool) {
	pos := p.pos_()
	p.expectKeyword("do")
	target, _, ok := p.expectIdent()
	if !ok {
		return ast.Interaction{}, false
	}
	var args []string
	if _, ok := p.expectKind(tokLParen, "'('"); ok {
		if p.cur().kind != tokRParen {
			for {
				a, _, ok := p.expectIdent()
				if !ok {
					break
				}
				args = append(args, a)
				if p.cur().kind == tokComma {
					p.next()
					continue
				}
				break
			}
		}
		p.expectKind(tokRParen, "')'")
	}
	return ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: target, Arguments: args, Pos: pos}), true
}

// parseMessage handles both surface forms seen across the corpus:
//
//	Label(Type, ...) [from] Sender to Receiver [, Receiver...] [within T]
//	Sender -> Receiver : Label(Type, ...)
//
// The `within T` suffix (a future timed-protocol extension) is parsed and
// discarded rather than given its own grammar rule, per spec.md §4.1's
// disambiguation note.
func (p *parser) parseMessage() (ast.Interaction, bool) {
	pos := p.pos_()
	if p.peekAt(1).kind == tokArrow {
		return p.parseArrowMessage(pos)
	}
	label, _, ok := p.expectIdent()
	if !ok {
		return ast.Interaction{}, false
	}
	var types []string
	if _, ok := p.expectKind(tokLParen, "'('"); ok {
		if p.cur().kind != tokRParen {
			for {
				t, _, ok := p.expectIdent()
				if !ok {
					break
				}
				types = append(types, t)
				if p.cur().kind == tokComma {
					p.next()
					continue
				}
				break
			}
		}
		p.expectKind(tokRParen, "')'")
	}
	if p.isKeyword("from") {
		p.next()
	}
	sender, _, ok := p.expectIdent()
	if !ok {
		return ast.Interaction{}, false
	}
	p.expectKeyword("to")
	var receivers []string
	for {
		r, _, ok := p.expectIdent()
		if !ok {
			break
		}
		receivers = append(receivers, r)
		if p.cur().kind == tokComma {
			p.next()
			continue
		}
		break
	}
	if p.isKeyword("within") {
		p.next()
		p.expectIdent()
	}
	return ast.MsgInteraction(&ast.Message{
		Label: label, PayloadTypes: types, Sender: sender, Receivers: receivers, Pos: pos,
	}), true
}

func (p *parser) parseArrowMessage(pos ast.Pos) (ast.Interaction, bool) {
	sender, _, ok := p.expectIdent()
	if !ok {
		return ast.Interaction{}, false
	}
	if _, ok := p.expectKind(tokArrow, "'->'"); !ok {
		return ast.Interaction{}, false
	}
	receiver, _, ok := p.expectIdent()
	if !ok {
		return ast.Interaction{}, false
	}
	if _, ok := p.expectKind(tokColon, "':'"); !ok {
		return ast.Interaction{}, false
	}
	label, _, ok := p.expectIdent()
	if !ok {
		return ast.Interaction{}, false
	}
	var types []string
	if _, ok := p.expectKind(tokLParen, "'('"); ok {
		if p.cur().kind != tokRParen {
			for {
				t, _, ok := p.expectIdent()
				if !ok {
					break
				}
				types = append(types, t)
				if p.cur().kind == tokComma {
					p.next()
					continue
				}
				break
			}
		}
		p.expectKind(tokRParen, "')'")
	}
	return ast.MsgInteraction(&ast.Message{
		Label: label, PayloadTypes: types, Sender: sender, Receivers: []string{receiver}, Pos: pos,
	}), true
}
