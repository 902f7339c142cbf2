// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEngineClosed        = errors.New("jsbridge: engine closed")
	ErrContextDestroyed    = errors.New("jsbridge: context destroyed")
	ErrBytecodeUnsupported = errors.New("jsbridge: engine does not support bytecode")
	ErrNoRuntime           = errors.New("jsbridge: no runtime available")
	ErrFunctionNotFound    = errors.New("jsbridge: function not found")
	ErrLoopStopped         = errors.New("jsbridge: message loop stopped")
	ErrNotInitialized      = errors.New("jsbridge: framework not initialized")
)

// ScriptFault is an exception thrown by script code.
type ScriptFault struct {
	Name    string
	Message string
	Stack   string
}

func (f *ScriptFault) Error() string {
	if f.Name == "" {
		return f.Message
	}
	return f.Name + ": " + f.Message
}

// Report renders the fault in the form the host expects in
// REPORT_EXCEPTION.
func (f *ScriptFault) Report() string {
	return fmt.Sprintf("JS Exception : %s\nexception name : %s\nexception stack : %s\n",
		f.Error(), f.Name, f.Stack)
}

// ParseScriptFault splits an engine error text of the form
// "Name: message" optionally followed by stack lines.
func ParseScriptFault(text string) *ScriptFault {
	first, stack, _ := strings.Cut(text, "\n")
	f := &ScriptFault{Message: first, Stack: strings.TrimSpace(stack)}
	if name, msg, ok := strings.Cut(first, ": "); ok && isIdentifier(name) {
		f.Name, f.Message = name, msg
	}
	return f
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// ReportError forwards err to the host as an exception of function in
// pageID. Script faults use their report form.
func ReportError(core CoreSide, pageID, function string, err error) {
	if core == nil || err == nil {
		return
	}
	var fault *ScriptFault
	if errors.As(err, &fault) {
		core.ReportException(pageID, function, fault.Report())
		return
	}
	core.ReportException(pageID, function, err.Error())
}
