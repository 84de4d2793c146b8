//go:build !linux && !darwin && !windows

package supervisor

func hostTerminal() terminalStrategy { return unsupportedTerminal{} }
