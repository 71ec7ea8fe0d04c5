package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/mdnsdiscover/internal/discovery"
)

const (
	fieldScanTime = iota
	fieldRetryCount
	fieldRetryDelay
	fieldCount
)

var fieldLabels = [fieldCount]string{
	fieldScanTime:   "Scan time",
	fieldRetryCount: "Retry count",
	fieldRetryDelay: "Retry delay (ms)",
}

// settingsForm edits discovery.Settings before a reset.
type settingsForm struct {
	inputs [fieldCount]textinput.Model
	focus  int
	err    string
}

func newSettingsForm(s discovery.Settings) settingsForm {
	var f settingsForm
	values := [fieldCount]string{
		fieldScanTime:   s.ScanTime.String(),
		fieldRetryCount: strconv.Itoa(s.RetryCount),
		fieldRetryDelay: strconv.Itoa(s.RetryDelayMs),
	}
	placeholders := [fieldCount]string{
		fieldScanTime:   "5s",
		fieldRetryCount: "2",
		fieldRetryDelay: "2000",
	}
	for i := range f.inputs {
		in := textinput.New()
		in.Placeholder = placeholders[i]
		in.CharLimit = 12
		in.Width = 14
		in.SetValue(values[i])
		f.inputs[i] = in
	}
	f.inputs[fieldScanTime].Focus()
	return f
}

func (f *settingsForm) move(delta int) {
	f.inputs[f.focus].Blur()
	f.focus = (f.focus + delta + fieldCount) % fieldCount
	f.inputs[f.focus].Focus()
}

func (f settingsForm) update(msg tea.Msg) (settingsForm, tea.Cmd) {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return f, cmd
}

// settings parses the form. Zero-valued settings are returned without error;
// the caller decides whether to accept them.
func (f settingsForm) settings() (discovery.Settings, error) {
	var s discovery.Settings

	if raw := strings.TrimSpace(f.inputs[fieldScanTime].Value()); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return s, fmt.Errorf("scan time: %w", err)
		}
		s.ScanTime = d
	}

	ints := []struct {
		field int
		dst   *int
	}{
		{fieldRetryCount, &s.RetryCount},
		{fieldRetryDelay, &s.RetryDelayMs},
	}
	for _, in := range ints {
		raw := strings.TrimSpace(f.inputs[in.field].Value())
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return s, fmt.Errorf("%s: not a number", strings.ToLower(fieldLabels[in.field]))
		}
		*in.dst = n
	}

	return s, s.Validate()
}

func (f settingsForm) view() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Reset discovery"))
	b.WriteString("\n\n")

	for i, in := range f.inputs {
		label := fmt.Sprintf("%-18s", fieldLabels[i])
		if i == f.focus {
			b.WriteString(FocusedInputStyle.Render(label))
		} else {
			b.WriteString(BlurredInputStyle.Render(label))
		}
		b.WriteString(in.View())
		b.WriteString("\n")
	}

	if f.err != "" {
		b.WriteString("\n")
		b.WriteString(ErrorTextStyle.Render("✗ " + f.err))
		b.WriteString("\n")
	}
	return b.String()
}
