// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the chart key bindings.
type keyMap struct {
	Start   key.Binding
	Stop    key.Binding
	BurnIn  key.Binding
	Summary key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start: key.NewBinding(
			key.WithKeys("s", "r"),
			key.WithHelp("s", "start/restart"),
		),
		Stop: key.NewBinding(
			key.WithKeys("x", " "),
			key.WithHelp("x", "stop"),
		),
		BurnIn: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "toggle burn-in"),
		),
		Summary: key.NewBinding(
			key.WithKeys("tab", "i"),
			key.WithHelp("tab", "summary"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Summary, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Start, k.Stop},
		{k.BurnIn, k.Summary},
		{k.Help, k.Quit},
	}
}
