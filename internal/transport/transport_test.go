package transport

import "testing"

func TestTargetString(t *testing.T) {
	if got := SinglePeer("sys1").String(); got != "sys1" {
		t.Errorf("SinglePeer(sys1).String() = %q, want sys1", got)
	}
	if got := AnyReady().String(); got != "any" {
		t.Errorf("AnyReady().String() = %q, want any", got)
	}
}

func TestExecTransportDefaultsPath(t *testing.T) {
	e := ExecTransport{}
	if e.Path != "" {
		t.Errorf("zero-value ExecTransport should have an empty Path until Spawn fills in the default")
	}
}
