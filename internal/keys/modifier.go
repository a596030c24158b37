// Package keys defines the chord vocabulary shared by the binding registry,
// the host transport and the configuration layer: a modifier bitset over the
// XKB modifier flags and a keysym identifier space.
package keys

import (
	"fmt"
	"strings"
)

// Modifier is a bitset of XKB modifier flags.
type Modifier uint32

const (
	ModShift Modifier = 1 << iota
	ModLock
	ModCtrl
	ModAlt // Mod1
	ModNum // Mod2
	ModMod3
	ModSuper // Mod4
	ModMod5
)

// modifierOrder fixes the canonical rendering order of Modifier.String.
var modifierOrder = []Modifier{ModCtrl, ModAlt, ModShift, ModSuper, ModLock, ModNum, ModMod3, ModMod5}

var modifierNames = map[Modifier]string{
	ModShift: "Shift",
	ModLock:  "Lock",
	ModCtrl:  "Ctrl",
	ModAlt:   "Alt",
	ModNum:   "Num",
	ModMod3:  "Mod3",
	ModSuper: "Super",
	ModMod5:  "Mod5",
}

var modifierByName = map[string]Modifier{
	"SHIFT":   ModShift,
	"LOCK":    ModLock,
	"CTRL":    ModCtrl,
	"CONTROL": ModCtrl,
	"ALT":     ModAlt,
	"MOD1":    ModAlt,
	"NUM":     ModNum,
	"MOD2":    ModNum,
	"MOD3":    ModMod3,
	"SUPER":   ModSuper,
	"LOGO":    ModSuper,
	"WIN":     ModSuper,
	"MOD4":    ModSuper,
	"MOD5":    ModMod5,
}

// primaryToken is the chord token that resolves to the configured primary
// modifier at parse time.
const primaryToken = "MOD"

// Has reports whether every flag in mod is set in m.
func (m Modifier) Has(mod Modifier) bool {
	return m&mod == mod
}

// String renders the set as "Ctrl+Alt+Shift+Super" in canonical order.
func (m Modifier) String() string {
	if m == 0 {
		return ""
	}
	parts := make([]string, 0, len(modifierOrder))
	for _, mod := range modifierOrder {
		if m&mod != 0 {
			parts = append(parts, modifierNames[mod])
		}
	}
	return strings.Join(parts, "+")
}

// ParseModifier resolves a single modifier name (case-insensitive).
func ParseModifier(name string) (Modifier, error) {
	token := strings.ToUpper(strings.TrimSpace(name))
	if mod, ok := modifierByName[token]; ok {
		return mod, nil
	}
	return 0, fmt.Errorf("unknown modifier %q", name)
}

// ParseModifiers parses a "+"-joined modifier list such as "Ctrl+Alt".
// An empty string yields the empty set.
func ParseModifiers(spec string) (Modifier, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return 0, nil
	}
	var mods Modifier
	for _, token := range strings.Split(raw, "+") {
		mod, err := ParseModifier(token)
		if err != nil {
			return 0, err
		}
		mods |= mod
	}
	return mods, nil
}
