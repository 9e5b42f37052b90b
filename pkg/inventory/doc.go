// Package inventory turns the hosts specification of a put step into the
// line-oriented group format read by the automation engine.
//
// A specification is one of three shapes, decided once by Parse: a single
// line ("localhost"), a flat list of hosts, or a mapping of groups. Groups
// may carry hosts, vars and children; groups with children are written
// before the others.
package inventory
