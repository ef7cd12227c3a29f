// Package fact defines the canonical unit of knowledge in agentWeb: the Fact,
// an immutable, signed record of something that happened. Every piece of state
// in the system is derived from facts flowing through the fact log and the
// stream router.
//
// A fact carries a globally unique ID, a millisecond timestamp, the producer's
// source identifier, a kind tag selecting its schema, a subject map naming what
// the fact is about, a kind-specific payload, an optional causal back-reference
// to the fact that logically caused it, and an integrity signature computed
// over all other fields.
//
// Facts are created through the constructors in factory.go, which guarantee a
// well-formed subject and payload shape per kind. Once created, a fact must
// never be mutated: the signature makes any tampering detectable.
package fact
