package ref

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Ref
	}{
		{"spaces/AAA", Ref{Kind: KindSpace, Space: "AAA"}},
		{"spaces/AAA/threads/T1", Ref{Kind: KindSpace, Space: "AAA", Thread: "T1"}},
		{"/spaces/AAA/messages/T1.M1/", Ref{Kind: KindSpace, Space: "AAA", Message: "T1.M1"}},
		{"channels/C01/threads/1712345678.000100", Ref{Kind: KindChannel, Space: "C01", Thread: "1712345678.000100"}},
		{"AAA", Ref{Kind: KindSpace, Space: "AAA"}},
		{"", Ref{}},
		{"spaces", Ref{}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Parse(tt.raw); got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseInInheritsSpace(t *testing.T) {
	base := Parse("spaces/AAA")

	thread := ParseIn(base, "threads/T9")
	if thread.ThreadName() != "spaces/AAA/threads/T9" {
		t.Fatalf("unexpected thread name: %q", thread.ThreadName())
	}

	msg := ParseIn(base, "T9.M3")
	if msg.MessageName() != "spaces/AAA/messages/T9.M3" {
		t.Fatalf("unexpected message name: %q", msg.MessageName())
	}

	slackBase := Space(KindChannel, "C01")
	reply := ParseIn(slackBase, "threads/1712.0001")
	if reply.ThreadName() != "channels/C01/threads/1712.0001" {
		t.Fatalf("unexpected slack thread name: %q", reply.ThreadName())
	}
}

func TestDerivedThread(t *testing.T) {
	tests := []struct {
		name string
		ref  Ref
		want string
		ok   bool
	}{
		{"explicit thread wins", Ref{Space: "A", Thread: "T", Message: "X.Y"}, "T", true},
		{"google chat key before dot", Ref{Space: "A", Message: "X.Y"}, "X", true},
		{"google chat without dot", Ref{Space: "A", Message: "X"}, "X", true},
		{"slack timestamp kept whole", Ref{Kind: KindChannel, Space: "C", Message: "1712.0001"}, "1712.0001", true},
		{"nothing known", Ref{Space: "A"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.ref.DerivedThread()
			if got != tt.want || ok != tt.ok {
				t.Fatalf("DerivedThread() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStringPrefersMostSpecific(t *testing.T) {
	r := Ref{Space: "A", Thread: "T"}
	if r.String() != "spaces/A/threads/T" {
		t.Fatalf("unexpected string: %q", r.String())
	}
	r = r.WithMessage("T.M")
	if r.String() != "spaces/A/messages/T.M" {
		t.Fatalf("unexpected string: %q", r.String())
	}
	if (Ref{}).String() != "" {
		t.Fatal("empty ref should format as empty string")
	}
}
