package frame

import "testing"

func TestFlagsClassification(t *testing.T) {
	selfContained := Flags{Bof: true, Eof: true}
	if !selfContained.IsSelfContainedMethod() {
		t.Fatal("expected bof&&eof to be self-contained")
	}

	framesetStart := Flags{Bof: true, Bos: true}
	if !framesetStart.StartsFrameset() {
		t.Fatal("expected bos to start a frameset")
	}
	if framesetStart.IsSelfContainedMethod() {
		t.Fatal("a frameset-opening frame is not a self-contained method")
	}

	framesetEnd := Flags{Eof: true, Eos: true}
	if !framesetEnd.EndsFrameset() {
		t.Fatal("expected eos to end a frameset")
	}
}

func TestMethodKinds(t *testing.T) {
	cases := []Method{
		MessageTransfer{Destination: "q1", Sync: true},
		ExecutionSyncMethod{Sync: true},
		SessionDetachMethod{},
		ManagementMethod{MethodID: ManagementDetach},
	}
	wantKinds := []MethodKind{MethodMessageTransfer, MethodExecutionSync, MethodSessionDetach, MethodManagement}
	for i, m := range cases {
		if m.Kind() != wantKinds[i] {
			t.Fatalf("case %d: expected kind %v, got %v", i, wantKinds[i], m.Kind())
		}
	}
	if !cases[0].IsContentBearing() {
		t.Fatal("MessageTransfer must be content-bearing")
	}
	if cases[1].IsContentBearing() {
		t.Fatal("ExecutionSyncMethod must not be content-bearing")
	}
}
