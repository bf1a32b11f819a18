package ast

// Constructors below keep callers (the parser, and tests) from having to
// hand-assemble the Interaction tagged union field-by-field.

// Empty returns the empty-body interaction.
func Empty(pos Pos) Interaction {
	return Interaction{Kind: KindEmpty, Pos: pos, Empty: true}
}

// Sequence returns a sequence of interactions. A one-element sequence
// collapses to that element directly.
func Sequence(pos Pos, items ...Interaction) Interaction {
	if len(items) == 1 {
		return items[0]
	}
	return Interaction{Kind: KindSeq, Pos: pos, Seq: items}
}

// MsgInteraction wraps a Message as an Interaction.
func MsgInteraction(m *Message) Interaction {
	return Interaction{Kind: KindMessage, Pos: m.Pos, Message: m}
}

// ChoiceInteraction wraps a Choice as an Interaction.
func ChoiceInteraction(c *Choice) Interaction {
	return Interaction{Kind: KindChoice, Pos: c.Pos, Choice: c}
}

// ParallelInteraction wraps a Parallel as an Interaction.
func ParallelInteraction(p *Parallel) Interaction {
	return Interaction{Kind: KindParallel, Pos: p.Pos, Parallel: p}
}

// RecursionInteraction wraps a Recursion as an Interaction.
func RecursionInteraction(r *Recursion) Interaction {
	return Interaction{Kind: KindRecursion, Pos: r.Pos, Recursion: r}
}

// ContinueInteraction wraps a Continue as an Interaction.
func ContinueInteraction(c *Continue) Interaction {
	return Interaction{Kind: KindContinue, Pos: c.Pos, Continue: c}
}

// SubProtocolInteraction wraps a SubProtocolCall as an Interaction.
func SubProtocolInteraction(s *SubProtocolCall) Interaction {
	return Interaction{Kind: KindSubProtocol, Pos: s.Pos, SubProtocol: s}
}
