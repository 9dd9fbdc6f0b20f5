// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

var all = []Status{Ready, Starting, Building, Running, Failed, Terminated}

var legalPairs = map[[2]Status]bool{
	{Ready, Starting}:     true,
	{Ready, Failed}:       true,
	{Starting, Building}:  true,
	{Starting, Failed}:    true,
	{Building, Running}:   true,
	{Building, Failed}:    true,
	{Running, Terminated}: true,
	{Running, Failed}:     true,
}

func testMachine() *Machine {
	return NewMachine(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTransitionFullTable(t *testing.T) {
	m := testMachine()
	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				err := m.Transition("sess-1", from, to)
				if legalPairs[[2]Status{from, to}] {
					if err != nil {
						t.Errorf("Transition(%s, %s) = %v, want nil", from, to, err)
					}
					return
				}
				var illegal *IllegalTransitionError
				if !errors.As(err, &illegal) {
					t.Errorf("Transition(%s, %s) = %v, want IllegalTransitionError", from, to, err)
					return
				}
				if illegal.From != from || illegal.To != to || illegal.SessionID != "sess-1" {
					t.Errorf("error fields = {%s %s %s}, want {%s %s sess-1}",
						illegal.SessionID, illegal.From, illegal.To, from, to)
				}
			})
		}
	}
}

func TestAssertNotTerminal(t *testing.T) {
	m := testMachine()
	for _, status := range all {
		err := m.AssertNotTerminal(status)
		if IsTerminal(status) {
			var terminal *TerminalStateError
			if !errors.As(err, &terminal) {
				t.Errorf("AssertNotTerminal(%s) = %v, want TerminalStateError", status, err)
			}
		} else if err != nil {
			t.Errorf("AssertNotTerminal(%s) = %v, want nil", status, err)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{Ready, false},
		{Starting, false},
		{Building, false},
		{Running, false},
		{Failed, true},
		{Terminated, true},
	}
	for _, tt := range tests {
		if got := IsTerminal(tt.status); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestValid(t *testing.T) {
	for _, status := range all {
		if !Valid(status) {
			t.Errorf("Valid(%s) = false, want true", status)
		}
	}
	if Valid(Status("PAUSED")) {
		t.Error(`Valid("PAUSED") = true, want false`)
	}
}
