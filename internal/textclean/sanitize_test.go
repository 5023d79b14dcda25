package textclean

import "testing"

func TestSanitizeRemovesActionSpanAndRoleLabel(t *testing.T) {
	got := Sanitize("Aili", "Sam", "Aili：你好呀*微笑*")
	if got != "你好呀" {
		t.Fatalf("Sanitize() = %q, want %q", got, "你好呀")
	}
}

func TestSanitizeRemovesLabelsAnywhere(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "ascii role prefix", in: "Aili: hello", want: "hello"},
		{name: "full-width user label mid text", in: "好的 Sam：你说得对", want: "好的 你说得对"},
		{name: "ascii user label mid text", in: "ok Sam:fine Sam:", want: "ok fine"},
		{name: "repeated role labels", in: "Aili：A Aili：B Aili:C", want: "A B C"},
		{name: "non-greedy spans", in: "*wave* hi *smile* there", want: "hi  there"},
		{name: "unpaired marker kept", in: "2*3 = 6", want: "2*3 = 6"},
		{name: "span does not cross lines", in: "a*b\nc*d", want: "a*b\nc*d"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize("Aili", "Sam", tc.in); got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"Aili：你好呀*微笑*",
		"AAili:ili: spliced",
		"**  *x*  Sam：Sam:",
		"*open only",
		"  plain text  ",
		"Ai*x*li: joined after span removal",
	}
	for _, in := range inputs {
		once := Sanitize("Aili", "Sam", in)
		twice := Sanitize("Aili", "Sam", once)
		if once != twice {
			t.Fatalf("Sanitize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestSanitizeIgnoresEmptyNames(t *testing.T) {
	got := Sanitize("", "", "时间：10:30")
	if got != "时间：10:30" {
		t.Fatalf("Sanitize() = %q, want colons untouched", got)
	}
}
