package supervisor

func hostTerminal() terminalStrategy { return linuxTerminal{} }
