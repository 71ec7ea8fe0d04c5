package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/mdnsdiscover/internal/discovery"
)

// deviceItem wraps a DeviceSummary for use with bubbles/list
type deviceItem struct {
	device discovery.DeviceSummary
}

func (d deviceItem) FilterValue() string {
	return d.device.DisplayName + " " + d.device.ServiceType + " " + d.device.Key
}

func (d deviceItem) Title() string {
	return d.device.Class.Icon() + " " + d.device.DisplayName
}

func (d deviceItem) Description() string {
	ip, _, _ := strings.Cut(d.device.Key, discovery.KeySeparator)
	return fmt.Sprintf("%s • %s", d.device.ServiceType, ip)
}

// deviceDelegate renders a device as a two-line entry.
type deviceDelegate struct{}

func (deviceDelegate) Height() int { return 2 }

func (deviceDelegate) Spacing() int { return 1 }

func (deviceDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (deviceDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	di, ok := item.(deviceItem)
	if !ok {
		return
	}

	title := di.Title()
	desc := di.Description()
	if di.device.Expired {
		desc += " (expired)"
	}

	switch {
	case index == m.Index():
		title = SelectedItemStyle.Render("→ " + title)
	case di.device.Expired:
		title = "  " + ExpiredStyle.Render(di.Title())
	default:
		title = "  " + title
	}

	fmt.Fprintf(w, "%s\n    %s", title, SubtitleStyle.Render(desc))
}

func newDeviceList() list.Model {
	l := list.New([]list.Item{}, deviceDelegate{}, 0, 0)
	l.Title = "Devices"
	l.Styles.Title = TitleStyle
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	return l
}

// indexOf returns the list position of key, or -1.
func indexOf(l list.Model, key string) int {
	for i, item := range l.Items() {
		if di, ok := item.(deviceItem); ok && di.device.Key == key {
			return i
		}
	}
	return -1
}

// selectedKey returns the key of the highlighted device, or "".
func selectedKey(l list.Model) string {
	if di, ok := l.SelectedItem().(deviceItem); ok {
		return di.device.Key
	}
	return ""
}
