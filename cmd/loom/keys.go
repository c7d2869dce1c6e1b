package main

// Keybinding constants, per the teacher's internal/tui/keys.go.
const (
	keyTab      = "tab"
	keyShiftTab = "shift+tab"
	keyQuit     = "q"
	keyCtrlC    = "ctrl+c"
	keyPane1    = "1"
	keyPane2    = "2"
	keyPane3    = "3"
)

func helpView() string {
	return styleHelp.Render("Tab: cycle pane | 1/2/3: jump to pane | q: quit")
}
