package keys

import "testing"

func TestParseChord(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		primary  Modifier
		wantMods Modifier
		wantSym  Sym
		wantStr  string
	}{
		{name: "primary letter", spec: "Mod+p", primary: ModSuper, wantMods: ModSuper, wantSym: SymA + ('p' - 'a'), wantStr: "Super+p"},
		{name: "primary shift return", spec: "Mod+Shift+Return", primary: ModSuper, wantMods: ModSuper | ModShift, wantSym: SymReturn, wantStr: "Shift+Super+Return"},
		{name: "uppercase letter folds", spec: "Mod+Shift+Q", primary: ModAlt, wantMods: ModAlt | ModShift, wantSym: SymA + ('q' - 'a'), wantStr: "Alt+Shift+q"},
		{name: "vt switch", spec: "Ctrl+Alt+F12", wantMods: ModCtrl | ModAlt, wantSym: SymF1 + 11, wantStr: "Ctrl+Alt+F12"},
		{name: "bare key", spec: "Sys_Req", wantSym: SymSysReq, wantStr: "Sys_Req"},
		{name: "alias", spec: "super+enter", wantMods: ModSuper, wantSym: SymReturn, wantStr: "Super+Return"},
		{name: "bracket alias", spec: "Mod4+[", wantMods: ModSuper, wantSym: SymBracketLeft, wantStr: "Super+bracketleft"},
		{name: "digit", spec: "Mod+3", primary: ModSuper, wantMods: ModSuper, wantSym: Sym0 + 3, wantStr: "Super+3"},
		{name: "hex keysym", spec: "Ctrl+0x1008ff13", wantMods: ModCtrl, wantSym: 0x1008ff13, wantStr: "Ctrl+0x1008ff13"},
		{name: "spaces around tokens", spec: " Ctrl + slash ", wantMods: ModCtrl, wantSym: SymSlash, wantStr: "Ctrl+slash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChord(tt.spec, tt.primary)
			if err != nil {
				t.Fatalf("ParseChord(%q) error = %v", tt.spec, err)
			}
			if got.Mods != tt.wantMods || got.Sym != tt.wantSym {
				t.Fatalf("ParseChord(%q) = {%v %v}, want {%v %v}", tt.spec, got.Mods, got.Sym, tt.wantMods, tt.wantSym)
			}
			if got.String() != tt.wantStr {
				t.Fatalf("String() = %q, want %q", got.String(), tt.wantStr)
			}
		})
	}
}

func TestParseChordErrors(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		primary Modifier
	}{
		{name: "empty", spec: ""},
		{name: "trailing plus", spec: "Ctrl+"},
		{name: "unknown modifier", spec: "Hyper+a"},
		{name: "unknown key", spec: "Ctrl+nosuchkey"},
		{name: "mod without primary", spec: "Mod+a"},
		{name: "function key out of range", spec: "F99"},
		{name: "zero keysym", spec: "0x0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseChord(tt.spec, tt.primary); err == nil {
				t.Fatalf("ParseChord(%q) succeeded, want error", tt.spec)
			}
		})
	}
}

func TestChordStringRoundTrip(t *testing.T) {
	for n := 1; n <= 12; n++ {
		sym, err := FunctionKey(n)
		if err != nil {
			t.Fatalf("FunctionKey(%d) error = %v", n, err)
		}
		chord := NewChord(ModCtrl|ModAlt, sym)
		parsed, err := ParseChord(chord.String(), 0)
		if err != nil {
			t.Fatalf("ParseChord(%q) error = %v", chord.String(), err)
		}
		if parsed != chord {
			t.Fatalf("round trip %q = %+v, want %+v", chord.String(), parsed, chord)
		}
	}
}

func TestChordTextMarshaling(t *testing.T) {
	chord := NewChord(ModSuper|ModShift, SymReturn)
	text, err := chord.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	var decoded Chord
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText(%q) error = %v", text, err)
	}
	if decoded != chord {
		t.Fatalf("decoded = %+v, want %+v", decoded, chord)
	}
}

func TestParseModifiers(t *testing.T) {
	got, err := ParseModifiers("Ctrl+Alt")
	if err != nil {
		t.Fatalf("ParseModifiers() error = %v", err)
	}
	if got != ModCtrl|ModAlt {
		t.Fatalf("ParseModifiers() = %v, want Ctrl+Alt", got)
	}
	if !got.Has(ModCtrl) || got.Has(ModShift) {
		t.Fatalf("Has() mismatch for %v", got)
	}
	if empty, err := ParseModifiers(""); err != nil || empty != 0 {
		t.Fatalf("ParseModifiers(\"\") = (%v, %v), want (0, nil)", empty, err)
	}
	if _, err := ParseModifiers("Ctrl+Bogus"); err == nil {
		t.Fatal("ParseModifiers(Ctrl+Bogus) succeeded, want error")
	}
}

func TestDigitKey(t *testing.T) {
	sym, err := DigitKey(6)
	if err != nil || sym.String() != "6" {
		t.Fatalf("DigitKey(6) = (%v, %v), want 6", sym, err)
	}
	if _, err := DigitKey(10); err == nil {
		t.Fatal("DigitKey(10) succeeded, want error")
	}
}
