package keys

import (
	"fmt"
	"strconv"
	"strings"
)

// Sym is an XKB keysym value.
type Sym uint32

const (
	SymSpace        Sym = 0x0020
	SymSlash        Sym = 0x002f
	Sym0            Sym = 0x0030
	SymBracketLeft  Sym = 0x005b
	SymBracketRight Sym = 0x005d
	SymA            Sym = 0x0061
	SymBackSpace    Sym = 0xff08
	SymTab          Sym = 0xff09
	SymReturn       Sym = 0xff0d
	SymSysReq       Sym = 0xff15
	SymEscape       Sym = 0xff1b
	SymLeft         Sym = 0xff51
	SymUp           Sym = 0xff52
	SymRight        Sym = 0xff53
	SymDown         Sym = 0xff54
	SymPrint        Sym = 0xff61
	SymF1           Sym = 0xffbe
	SymSuperL       Sym = 0xffeb
	SymDelete       Sym = 0xffff
)

// namedSyms holds the canonical names of non-alphanumeric keysyms.
var namedSyms = map[string]Sym{
	"space":        SymSpace,
	"slash":        SymSlash,
	"bracketleft":  SymBracketLeft,
	"bracketright": SymBracketRight,
	"BackSpace":    SymBackSpace,
	"Tab":          SymTab,
	"Return":       SymReturn,
	"Sys_Req":      SymSysReq,
	"Escape":       SymEscape,
	"Left":         SymLeft,
	"Up":           SymUp,
	"Right":        SymRight,
	"Down":         SymDown,
	"Print":        SymPrint,
	"Super_L":      SymSuperL,
	"Delete":       SymDelete,
}

// symAliases maps upper-cased aliases to canonical keysyms so configuration
// can use the spellings people actually type.
var symAliases = map[string]Sym{
	"ENTER":     SymReturn,
	"ESC":       SymEscape,
	"SYSRQ":     SymSysReq,
	"[":         SymBracketLeft,
	"]":         SymBracketRight,
	"/":         SymSlash,
	"BACKSPACE": SymBackSpace,
}

var symNames = func() map[Sym]string {
	names := make(map[Sym]string, len(namedSyms))
	for name, sym := range namedSyms {
		names[sym] = name
	}
	return names
}()

var namedSymsUpper = func() map[string]Sym {
	upper := make(map[string]Sym, len(namedSyms))
	for name, sym := range namedSyms {
		upper[strings.ToUpper(name)] = sym
	}
	return upper
}()

// FunctionKey returns the keysym for F<n>, 1 <= n <= 35.
func FunctionKey(n int) (Sym, error) {
	if n < 1 || n > 35 {
		return 0, fmt.Errorf("function key F%d out of range", n)
	}
	return SymF1 + Sym(n-1), nil
}

// DigitKey returns the keysym for the digit d, 0 <= d <= 9.
func DigitKey(d int) (Sym, error) {
	if d < 0 || d > 9 {
		return 0, fmt.Errorf("digit %d out of range", d)
	}
	return Sym0 + Sym(d), nil
}

// ParseSym resolves a key name. Letters are case-insensitive and map to the
// lowercase keysym (Shift is expressed as a modifier). Named keys accept
// their XKB spelling in any case plus a few aliases. "0x"-prefixed values are
// taken as raw keysyms.
func ParseSym(name string) (Sym, error) {
	token := strings.TrimSpace(name)
	if token == "" {
		return 0, fmt.Errorf("missing key")
	}
	if len(token) == 1 {
		ch := token[0]
		switch {
		case ch >= 'a' && ch <= 'z':
			return SymA + Sym(ch-'a'), nil
		case ch >= 'A' && ch <= 'Z':
			return SymA + Sym(ch-'A'), nil
		case ch >= '0' && ch <= '9':
			return Sym0 + Sym(ch-'0'), nil
		}
	}
	upper := strings.ToUpper(token)
	if sym, ok := namedSymsUpper[upper]; ok {
		return sym, nil
	}
	if sym, ok := symAliases[upper]; ok {
		return sym, nil
	}
	if len(upper) > 1 && upper[0] == 'F' {
		if n, err := strconv.Atoi(upper[1:]); err == nil {
			return FunctionKey(n)
		}
	}
	if strings.HasPrefix(upper, "0X") {
		value, err := strconv.ParseUint(upper[2:], 16, 32)
		if err != nil || value == 0 {
			return 0, fmt.Errorf("invalid keysym %q", name)
		}
		return Sym(value), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// String returns the canonical XKB name, or a hex literal for keysyms
// outside the known table.
func (s Sym) String() string {
	switch {
	case s >= SymA && s < SymA+26:
		return string(rune('a' + (s - SymA)))
	case s >= Sym0 && s <= Sym0+9:
		return string(rune('0' + (s - Sym0)))
	case s >= SymF1 && s < SymF1+35:
		return "F" + strconv.Itoa(int(s-SymF1)+1)
	}
	if name, ok := symNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint32(s))
}
