package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/logging"
	"github.com/muurk/mdnsdiscover/internal/pubsub"
)

// Registry is the part of *discovery.Registry the terminal UI drives.
type Registry interface {
	Devices() []discovery.DeviceSummary
	Lookup(key string) (discovery.DeviceSummary, bool)
	DeviceDetailText(key string) string
	Settings() discovery.Settings
	Configure(s discovery.Settings) error
	SetEnabled(on bool) error
	Restart(desiredOn bool) error
}

// Pane identifies which part of the screen has keyboard focus.
type Pane int

const (
	PaneDevices Pane = iota
	PaneDetail
	PaneErrors
	paneCount
)

// ErrorPaneState mirrors whether reported errors have been looked at.
type ErrorPaneState int

const (
	ErrorsClear  ErrorPaneState = iota // nothing reported
	ErrorsUnread                       // new errors since the pane last had focus
	ErrorsSeen
)

type actionDoneMsg struct {
	action string
	err    error
}

// Model is the main discovery screen.
type Model struct {
	registry Registry
	listener *pubsub.ContinuousListener[discovery.Notification]

	// Keys seen in a Published event and not yet unpublished
	published map[string]struct{}

	devices    list.Model
	detail     viewport.Model
	detailText string
	errorsView viewport.Model
	errors     []string
	errorState ErrorPaneState
	focus      Pane

	running   bool
	autoStart bool
	busy      bool
	status    string

	form     settingsForm
	showForm bool

	keys     keyMap
	formKeys formKeyMap
	help     help.Model

	Width  int
	Height int
}

// Option configures a Model.
type Option func(*Model)

// WithAutoStart switches discovery on as soon as the program starts.
func WithAutoStart(on bool) Option {
	return func(m *Model) { m.autoStart = on }
}

// WithSize sets the initial terminal size until the first resize message.
func WithSize(width, height int) Option {
	return func(m *Model) {
		m.Width = width
		m.Height = height
	}
}

// New creates the model. Devices already in the registry are shown
// immediately; later changes arrive through listener.
func New(registry Registry, listener *pubsub.ContinuousListener[discovery.Notification], opts ...Option) Model {
	m := Model{
		registry:   registry,
		listener:   listener,
		published:  make(map[string]struct{}),
		devices:    newDeviceList(),
		detail:     viewport.New(0, 0),
		errorsView: viewport.New(0, 0),
		keys:       newKeyMap(),
		formKeys:   newFormKeyMap(),
		help:       help.New(),
	}
	for _, opt := range opts {
		opt(&m)
	}

	for _, dev := range registry.Devices() {
		m.published[dev.Key] = struct{}{}
		m.devices.InsertItem(len(m.devices.Items()), deviceItem{device: dev})
	}
	m.resize()
	m.showSelected()
	return m
}

// Init starts listening for registry events.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.listen()}
	if m.autoStart {
		cmds = append(cmds, m.setEnabled(true))
	}
	return tea.Batch(cmds...)
}

func (m Model) listen() tea.Cmd {
	if m.listener == nil {
		return nil
	}
	return m.listener.Listen()
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.resize()
		return m, nil

	case pubsub.Event[discovery.Notification]:
		cmd := m.handleEvent(msg)
		return m, tea.Batch(cmd, m.listen())

	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = msg.action + " failed: " + msg.err.Error()
		} else {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		if m.showForm {
			return m.updateForm(msg)
		}
		return m.updateKeys(msg)
	}

	var cmd tea.Cmd
	m.devices, cmd = m.devices.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(ev pubsub.Event[discovery.Notification]) tea.Cmd {
	switch ev.Type {
	case pubsub.StateChangedEvent:
		m.running = ev.Payload.Running
		if !m.running {
			clear(m.published)
			m.devices.SetItems(nil)
			m.showSelected()
		}

	case pubsub.PublishedEvent:
		return m.publish(ev.Payload.Key)

	case pubsub.UnpublishedEvent:
		m.unpublish(ev.Payload.Key)

	case pubsub.ErrorEvent:
		m.errors = append(m.errors, ev.Payload.Message)
		m.errorsView.SetContent(strings.Join(m.errors, "\n"))
		m.errorsView.GotoBottom()
		if m.focus != PaneErrors {
			m.errorState = ErrorsUnread
		} else {
			m.errorState = ErrorsSeen
		}
	}
	return nil
}

func (m *Model) publish(key string) tea.Cmd {
	dev, ok := m.registry.Lookup(key)
	if !ok {
		// Removed again before we got here
		return nil
	}

	if _, seen := m.published[key]; seen {
		if i := indexOf(m.devices, key); i >= 0 {
			cmd := m.devices.SetItem(i, deviceItem{device: dev})
			if selectedKey(m.devices) == key {
				m.showSelected()
			}
			return cmd
		}
		return nil
	}

	m.published[key] = struct{}{}
	cmd := m.devices.InsertItem(len(m.devices.Items()), deviceItem{device: dev})
	logging.Debug("Device listed", zap.String("key", key))

	if len(m.published) == 1 {
		m.devices.Select(0)
		m.showSelected()
	}
	return cmd
}

func (m *Model) unpublish(key string) {
	if _, ok := m.published[key]; !ok {
		logging.Debug("Unpublish for unlisted device", zap.String("key", key))
	}
	delete(m.published, key)

	i := indexOf(m.devices, key)
	if i < 0 {
		return
	}
	wasSelected := selectedKey(m.devices) == key
	m.devices.RemoveItem(i)
	if wasSelected {
		m.showSelected()
	}
}

func (m *Model) showSelected() {
	m.detailText = ""
	if key := selectedKey(m.devices); key != "" {
		m.detailText = m.registry.DeviceDetailText(key)
	}
	m.detail.SetContent(m.detailText)
	m.detail.GotoTop()
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The list owns the keyboard while a filter is being typed
	if m.devices.FilterState() == list.Filtering {
		return m.updateDevices(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Focus):
		m.setFocus((m.focus + 1) % paneCount)
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		if m.busy {
			return m, nil
		}
		return m, m.setEnabled(!m.running)

	case key.Matches(msg, m.keys.Reset):
		m.form = newSettingsForm(m.registry.Settings())
		m.showForm = true
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	var cmd tea.Cmd
	switch m.focus {
	case PaneDetail:
		m.detail, cmd = m.detail.Update(msg)
	case PaneErrors:
		m.errorsView, cmd = m.errorsView.Update(msg)
	default:
		return m.updateDevices(msg)
	}
	return m, cmd
}

func (m Model) updateDevices(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	before := selectedKey(m.devices)
	var cmd tea.Cmd
	m.devices, cmd = m.devices.Update(msg)
	if selectedKey(m.devices) != before {
		m.showSelected()
	}
	return m, cmd
}

func (m *Model) setFocus(p Pane) {
	m.focus = p
	if p == PaneErrors && len(m.errors) > 0 {
		m.errorState = ErrorsSeen
	}
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.formKeys.Cancel):
		m.showForm = false
		return m, nil

	case key.Matches(msg, m.formKeys.Next):
		m.form.move(1)
		return m, nil

	case key.Matches(msg, m.formKeys.Prev):
		m.form.move(-1)
		return m, nil

	case key.Matches(msg, m.formKeys.Apply):
		s, err := m.form.settings()
		if err == nil && s.IsZero() {
			err = discovery.ErrDefaultSettings
		}
		if err != nil {
			m.form.err = err.Error()
			return m, nil
		}
		m.showForm = false
		m.busy = true
		m.status = "resetting..."
		return m, m.reset(s, m.running)
	}

	var cmd tea.Cmd
	m.form, cmd = m.form.update(msg)
	return m, cmd
}

// setEnabled runs off the update loop; the registry reports the outcome
// through a StateChanged event.
func (m Model) setEnabled(on bool) tea.Cmd {
	registry := m.registry
	return func() tea.Msg {
		return actionDoneMsg{action: "switch", err: registry.SetEnabled(on)}
	}
}

func (m Model) reset(s discovery.Settings, on bool) tea.Cmd {
	registry := m.registry
	return func() tea.Msg {
		if err := registry.Configure(s); err != nil {
			return actionDoneMsg{action: "reset", err: err}
		}
		return actionDoneMsg{action: "reset", err: registry.Restart(on)}
	}
}

// Published returns the keys currently listed, in list order.
func (m Model) Published() []string {
	keys := make([]string, 0, len(m.devices.Items()))
	for _, item := range m.devices.Items() {
		if di, ok := item.(deviceItem); ok {
			keys = append(keys, di.device.Key)
		}
	}
	return keys
}

// Selected returns the highlighted device key.
func (m Model) Selected() string { return selectedKey(m.devices) }

// DetailText returns what the detail pane is showing.
func (m Model) DetailText() string { return m.detailText }

// ErrorState reports the colour state of the error pane.
func (m Model) ErrorState() ErrorPaneState { return m.errorState }

// Running reports the last state announced by the registry.
func (m Model) Running() bool { return m.running }

func (m *Model) resize() {
	width, height := m.Width, m.Height
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	if height < MinTerminalHeight {
		height = MinTerminalHeight
	}

	// Outer border, header and footer take eight rows
	inner := width - 4
	body := height - 8
	errorsHeight := errorPaneLines + 2
	mainHeight := body - errorsHeight

	listWidth := inner * 2 / 5
	detailWidth := inner - listWidth

	m.devices.SetSize(listWidth-2, mainHeight-2)
	m.detail.Width = detailWidth - 2
	m.detail.Height = mainHeight - 2
	m.errorsView.Width = inner - 2
	m.errorsView.Height = errorPaneLines
}

// View renders the screen
func (m Model) View() string {
	width, height := m.Width, m.Height
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	if height < MinTerminalHeight {
		height = MinTerminalHeight
	}

	if m.showForm {
		modal := ModalStyle.Width(SafeModalWidth(48, width)).Render(m.form.view() + "\n" + m.help.View(m.formKeys))
		return RenderModal(modal, width, height)
	}

	devicesPane := m.pane(PaneDevices, m.devices.View(), m.devices.Width()+2, BorderColor)
	detailPane := m.pane(PaneDetail, m.detail.View(), m.detail.Width+2, BorderColor)
	errorsPane := m.pane(PaneErrors, m.errorsView.View(), m.errorsView.Width+2, m.errorColor())

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, devicesPane, detailPane),
		errorsPane,
	)

	return RenderApplicationContainer(content, m.statusLine(), m.help.View(m.keys), width, height)
}

func (m Model) pane(p Pane, body string, width int, border lipgloss.TerminalColor) string {
	style := PaneStyle.Width(width - 2).BorderForeground(border)
	if m.focus == p && p != PaneErrors {
		style = style.BorderForeground(HighlightColor)
	}
	return style.Render(body)
}

func (m Model) errorColor() lipgloss.TerminalColor {
	switch m.errorState {
	case ErrorsUnread:
		return ErrorColor
	case ErrorsSeen:
		return SubtleColor
	default:
		return SecondaryColor
	}
}

func (m Model) statusLine() string {
	state := StoppedStyle.Render("○ off")
	if m.running {
		state = RunningStyle.Render("● on")
	}
	if m.status != "" {
		state += " " + SubtitleStyle.Render(m.status)
	}
	return state
}
