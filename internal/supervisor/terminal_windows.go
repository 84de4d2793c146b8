package supervisor

func hostTerminal() terminalStrategy { return windowsTerminal{} }
