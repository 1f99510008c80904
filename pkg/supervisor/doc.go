// Package supervisor classifies each incoming customer message and
// either answers it directly or dispatches it to a specialist agent.
//
// Routing is layered: deterministic keyword overrides run first and win
// unconditionally, then an optional classifier, then tie-breaking by
// session stickiness and monetary-term defaulting. Ambiguity is never a
// hard error; it resolves to a clarifying direct answer.
package supervisor
