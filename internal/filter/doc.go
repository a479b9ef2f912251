// Package filter implements realtime row filters of the form
// column=op.value, as used by change subscriptions (e.g. "uid=eq.u1").
//
// A Filter can be evaluated against a decoded row (Match) or compiled to a
// parameterized Postgres predicate (SQL). Values are never interpolated
// into SQL text.
//
// Supported operators:
//
//	eq   column = value
//	neq  column <> value
//	lt   column < value
//	lte  column <= value
//	gt   column > value
//	gte  column >= value
//	in   column IN (a, b, ...)   written as in.(a,b,...)
package filter
