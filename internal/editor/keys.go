package editor

import (
	"fmt"
	"strings"

	"voxelander/internal/cursor"
)

// Key names a keyboard key by its label.
type Key string

const (
	KeyA Key = "A"
	KeyB Key = "B"
	KeyC Key = "C"
	KeyD Key = "D"
	KeyE Key = "E"
	KeyF Key = "F"
	KeyL Key = "L"
	KeyO Key = "O"
	KeyR Key = "R"
	KeyS Key = "S"
	KeyU Key = "U"
	KeyV Key = "V"
	Key1 Key = "1"
	Key2 Key = "2"
	Key3 Key = "3"
	Key4 Key = "4"
)

type Action int

const (
	Press Action = iota + 1
	Release
	Repeat
)

func (a Action) String() string {
	switch a {
	case Press:
		return "press"
	case Release:
		return "release"
	case Repeat:
		return "repeat"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Mod is a bit set of held modifier keys.
type Mod int

const (
	ModShift Mod = 1 << iota
	ModCtrl
)

var moveKeys = map[Key]cursor.Dir{
	KeyB: cursor.Back,
	KeyF: cursor.Forward,
	KeyL: cursor.Left,
	KeyR: cursor.Right,
	KeyU: cursor.Up,
	KeyD: cursor.Down,
}

// ParseKey reads a chord such as "a", "ctrl+s" or "shift+ctrl+o".
func ParseKey(s string) (Key, Mod, error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	var mods Mod
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "ctrl", "control":
			mods |= ModCtrl
		case "shift":
			mods |= ModShift
		default:
			return "", 0, fmt.Errorf("unknown modifier %q", p)
		}
	}
	k := Key(strings.ToUpper(strings.TrimSpace(parts[len(parts)-1])))
	if len(k) != 1 {
		return "", 0, fmt.Errorf("unknown key %q", s)
	}
	return k, mods, nil
}

// ParseAction accepts press, release and repeat.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "press", "down":
		return Press, nil
	case "release", "up":
		return Release, nil
	case "repeat":
		return Repeat, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}
