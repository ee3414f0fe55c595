package gorawrcache

import "fmt"

// merge overlays the non-zero fields of top on base.
func merge(base, top Settings) Settings {
	out := base
	if top.Local.MaxEntries != 0 {
		out.Local.MaxEntries = top.Local.MaxEntries
	}
	if top.Local.TTL != 0 {
		out.Local.TTL = top.Local.TTL
	}
	if top.Remote.MaxEntries != 0 {
		out.Remote.MaxEntries = top.Remote.MaxEntries
	}
	if top.Remote.TTL != 0 {
		out.Remote.TTL = top.Remote.TTL
	}
	if top.Remote.CommandTimeout != 0 {
		out.Remote.CommandTimeout = top.Remote.CommandTimeout
	}
	return out
}

// resolve merges layers in increasing precedence, clamps an inherited local
// TTL to the remote TTL and validates the result.
//
// The local TTL is clamped only when the layer that last set it sits below
// the layer that last set the remote TTL. A caller that sets both at the
// same layer gets exactly what was asked for, or an error.
func resolve(layers ...Settings) (Settings, error) {
	var out Settings
	localAt, remoteAt := -1, -1
	for i, l := range layers {
		if l.Local.TTL != 0 {
			localAt = i
		}
		if l.Remote.TTL != 0 {
			remoteAt = i
		}
		out = merge(out, l)
	}
	if localAt < remoteAt && out.Local.TTL > out.Remote.TTL && out.Remote.TTL > 0 {
		out.Local.TTL = out.Remote.TTL
	}
	return out, validate(out)
}

// validate checks the invariants every wrapped function relies on.
func validate(s Settings) error {
	switch {
	case s.Local.MaxEntries <= 0:
		return invalid("local max entries must be > 0, got %d", s.Local.MaxEntries)
	case s.Local.TTL <= 0:
		return invalid("local ttl must be > 0, got %s", s.Local.TTL)
	case s.Remote.MaxEntries <= 0:
		return invalid("remote max entries must be > 0, got %d", s.Remote.MaxEntries)
	case s.Remote.TTL <= 0:
		return invalid("remote ttl must be > 0, got %s", s.Remote.TTL)
	case s.Remote.TTL < s.Local.TTL:
		return invalid("remote ttl must be >= local ttl, got %s < %s", s.Remote.TTL, s.Local.TTL)
	case s.Remote.CommandTimeout <= 0:
		return invalid("remote command timeout must be > 0, got %s", s.Remote.CommandTimeout)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

