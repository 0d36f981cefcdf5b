package ui

import (
	"fmt"

	"github.com/rescp17/callKit/internal/style"
	"github.com/rescp17/callKit/pkg/locus"
)

func (m model) View() string {
	var s string
	switch m.call.Status() {
	case locus.StatusInitiated:
		if m.call.Direction() == locus.DirectionOutgoing {
			s = fmt.Sprintf("\n%s Calling...", m.spinner.View())
		} else {
			s = m.incomingView()
		}
	case locus.StatusRinging:
		if m.call.Direction() == locus.DirectionOutgoing {
			s = fmt.Sprintf("\n%s Ringing...", m.spinner.View())
		} else {
			s = m.incomingView()
		}
	case locus.StatusConnected:
		s = m.connectedView()
	case locus.StatusDisconnected:
		s = "\nCall ended."
	}

	if m.err != nil {
		s += "\n" + style.ErrorStyle.Render(fmt.Sprintf("error: %v", m.err))
	}
	s += "\n" + style.HelpStyle.Render(m.helpLine())
	return s
}

func (m model) incomingView() string {
	return fmt.Sprintf("\n%s Incoming call...", m.spinner.View())
}

func (m model) connectedView() string {
	s := "\n" + style.ConnectedStyle.Render("Connected") + "\n"
	s += style.BaseStyle.Render(m.table.View()) + "\n"
	s += fmt.Sprintf("mic: %s  camera: %s\n", onOff(m.call.SendingAudio()), onOff(m.call.SendingVideo()))
	if url := m.call.RemoteStreamURL(); url != "" {
		s += fmt.Sprintf("remote stream: %s\n", style.HighlightFontStyle.Render(url))
	}
	return s
}

func (m model) helpLine() string {
	switch m.call.Status() {
	case locus.StatusConnected:
		return "m: mute mic | v: mute camera | f: flip camera | h: hang up | q: quit"
	case locus.StatusDisconnected:
		return "q: quit"
	default:
		if m.call.Direction() == locus.DirectionIncoming {
			return "a: answer | d: decline | q: quit"
		}
		return "h: hang up | q: quit"
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
