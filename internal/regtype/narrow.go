package regtype

// canConvertTo1nr mirrors the source's canConvertTo1nr table (see
// original_source/dalvik/vm/analysis/CodeVerify.cpp). It answers: can a
// register currently holding constant kind `from` commit to concrete kind
// `to` the first time it is used in a `to`-typed position?
//
// Per spec.md §9's open question, the table's asymmetry is preserved on
// purpose: a few pairs that a commutative "narrow-widens-to" reading would
// allow are rejected here because the source rejects them too. Do not
// "clean this up" without recording a fresh behavioral divergence.
var canConvertTo1nr = map[[2]Kind]bool{
	{ConstPosByte, Boolean}:  true,
	{ConstPosByte, PosByte}:  true,
	{ConstPosByte, Byte}:     true,
	{ConstPosByte, PosShort}: true,
	{ConstPosByte, Short}:    true,
	{ConstPosByte, Char}:     true,
	{ConstPosByte, Int}:      true,
	{ConstPosByte, Float}:    true,

	{ConstByte, Byte}:  true,
	{ConstByte, Short}: true,
	{ConstByte, Int}:   true,
	{ConstByte, Float}: true,
	// A ConstByte (negative range permitted) is NOT allowed to commit to
	// Boolean, PosByte, PosShort or Char: those are all non-negative-only
	// kinds, so a negative literal can never inhabit them even though the
	// symmetric/commutative reading might suggest "narrower implies
	// assignable". This asymmetry matches the source.

	{ConstPosShort, Boolean}:  false,
	{ConstPosShort, PosByte}:  false,
	{ConstPosShort, Byte}:     true,
	{ConstPosShort, PosShort}: true,
	{ConstPosShort, Short}:    true,
	{ConstPosShort, Char}:     true,
	{ConstPosShort, Int}:      true,
	{ConstPosShort, Float}:    true,

	{ConstShort, Short}: true,
	{ConstShort, Int}:   true,
	{ConstShort, Float}: true,

	{ConstChar, Char}:  true,
	{ConstChar, Int}:   true,
	{ConstChar, Float}: true,
	// A ConstChar (unsigned 16-bit) cannot commit back down to Byte/PosByte
	// even when the literal value would fit, matching the source's refusal
	// to treat char literals as byte-compatible.

	{ConstInt, Int}:   true,
	{ConstInt, Float}: true,
	// ConstInt deliberately does NOT convert to Boolean/PosByte/Byte/
	// PosShort/Short/Char: by the time a literal is wide enough to need the
	// full ConstInt kind (rather than one of the narrower Const* kinds) the
	// source no longer considers it narrow-compatible, even if the literal
	// value happens to fit.
}

// CanNarrowConstTo reports whether a register currently holding the
// constant kind `from` may commit to concrete kind `to` on first typed use.
func CanNarrowConstTo(from, to Kind) bool {
	if from == to {
		return true
	}
	return canConvertTo1nr[[2]Kind{from, to}]
}

// NarrowOnUse implements "constant-derived narrowing on first use": when a
// register holding a constant kind is consumed in a position that demands
// concrete kind `to` (e.g. a ConstInt used as the operand to a float op
// becomes Float thereafter), the caller commits the narrower concrete type
// by storing the returned RegisterType back into the register's line. ok is
// false if the conversion is not permitted, in which case the verifier must
// reject the instruction.
func NarrowOnUse(cur RegisterType, to Kind) (RegisterType, bool) {
	if !cur.Kind.IsConstant() {
		if cur.Kind == to {
			return cur, true
		}
		return cur, false
	}
	if !CanNarrowConstTo(cur.Kind, to) {
		return cur, false
	}
	return Of(to), true
}
