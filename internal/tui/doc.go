// Package tui is the interactive terminal front end for a discovery
// registry.
//
// The screen has three panes: the published device list, the detail text
// of the highlighted device and the error log. Tab cycles focus between
// them.
//
// The list is built only from registry events delivered over a pubsub
// broker. A key is added on its first Published event and its entry and
// detail refresh on later ones; it is dropped on Unpublished, and
// StateChanged(false) empties the list. The first device listed is
// selected automatically.
//
// The error pane border is green while nothing has been reported, red
// while there are errors that arrived since the pane last had focus, and
// grey once they have been looked at.
//
// Key bindings:
//
//	o / space   switch discovery on or off
//	r           edit scan settings and reset (all-zero settings are refused)
//	/           filter the device list
//	pgup/pgdn   scroll the focused pane
//	q           quit
//
// Registry calls that may block run as tea.Cmds so the update loop never
// waits on a teardown.
package tui
