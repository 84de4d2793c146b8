package supervisor

func hostTerminal() terminalStrategy { return darwinTerminal{} }
