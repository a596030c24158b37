package keys

import (
	"fmt"
	"strings"
)

// Chord is a binding key: a modifier set plus one keysym.
type Chord struct {
	Mods Modifier
	Sym  Sym
}

// NewChord builds a chord from its parts.
func NewChord(mods Modifier, sym Sym) Chord {
	return Chord{Mods: mods, Sym: sym}
}

// String renders the chord as "Ctrl+Alt+F1" or a bare key name when no
// modifiers are set. The output round-trips through ParseChord.
func (c Chord) String() string {
	mods := c.Mods.String()
	if mods == "" {
		return c.Sym.String()
	}
	return mods + "+" + c.Sym.String()
}

// MarshalText implements encoding.TextMarshaler.
func (c Chord) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. "Mod" is not accepted
// here because the primary modifier is a configuration concern.
func (c *Chord) UnmarshalText(text []byte) error {
	parsed, err := ParseChord(string(text), 0)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChord parses a "+"-joined chord such as "Mod+Shift+Return". The last
// token is the key; the rest are modifiers. The token "Mod" resolves to
// primary, which must be non-zero for the token to be accepted. A chord
// without modifiers ("Sys_Req") is valid.
func ParseChord(spec string, primary Modifier) (Chord, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Chord{}, fmt.Errorf("chord spec is empty")
	}

	parts := strings.Split(raw, "+")
	// "Mod++" style specs bind the plus key; not supported by the table.
	keyToken := parts[len(parts)-1]
	if strings.TrimSpace(keyToken) == "" {
		return Chord{}, fmt.Errorf("chord %q has no key", raw)
	}

	var mods Modifier
	for _, token := range parts[:len(parts)-1] {
		name := strings.ToUpper(strings.TrimSpace(token))
		if name == primaryToken {
			if primary == 0 {
				return Chord{}, fmt.Errorf("chord %q uses Mod but no primary modifier is configured", raw)
			}
			mods |= primary
			continue
		}
		mod, ok := modifierByName[name]
		if !ok {
			return Chord{}, fmt.Errorf("unknown modifier %q in chord %q", token, raw)
		}
		mods |= mod
	}

	sym, err := ParseSym(keyToken)
	if err != nil {
		return Chord{}, fmt.Errorf("chord %q: %w", raw, err)
	}
	return Chord{Mods: mods, Sym: sym}, nil
}

// MustParseChord is ParseChord for compile-time constant specs; it panics on
// error.
func MustParseChord(spec string, primary Modifier) Chord {
	chord, err := ParseChord(spec, primary)
	if err != nil {
		panic(err)
	}
	return chord
}
