package controlsock

import "testing"

func TestProcRegisterRoundTrip(t *testing.T) {
	rec := ProcRegister{
		Pid:      4242,
		Type:     1,
		ExecPath: "/usr/bin/hamasterd-server",
		Args:     []string{"#server1", "--db", "mydb"},
	}
	buf := EncodeProcRegister(rec)
	if len(buf) != procRegisterLen {
		t.Fatalf("expected %d bytes, got %d", procRegisterLen, len(buf))
	}

	got, err := DecodeProcRegister(buf)
	if err != nil {
		t.Fatalf("DecodeProcRegister: %v", err)
	}
	if got.Pid != rec.Pid || got.Type != rec.Type || got.ExecPath != rec.ExecPath {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
	}
	if len(got.Args) != len(rec.Args) {
		t.Fatalf("expected %d args, got %d", len(rec.Args), len(got.Args))
	}
	for i, a := range rec.Args {
		if got.Args[i] != a {
			t.Fatalf("arg %d mismatch: got %q want %q", i, got.Args[i], a)
		}
	}
}

func TestDecodeProcRegisterRejectsWrongSize(t *testing.T) {
	_, err := DecodeProcRegister(make([]byte, 10))
	if err == nil {
		t.Fatal("expected an error for a short buffer")
	}
}

func TestArgvJoinsExecPathAndArgs(t *testing.T) {
	got := Argv("/bin/server", []string{"#s1", "--db", "mydb"})
	want := "/bin/server #s1 --db mydb"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
