package wa

import "testing"

func TestPhoneJID(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+90 555 111 22 33", "905551112233@s.whatsapp.net", true},
		{"(0090) 555-111-2233", "905551112233@s.whatsapp.net", true},
		{"12345", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		jid, err := PhoneJID(tc.in)
		if !tc.ok {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if jid.String() != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.in, tc.want, jid.String())
		}
	}
}
