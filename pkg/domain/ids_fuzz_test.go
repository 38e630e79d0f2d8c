package domain

import (
	"strings"
	"testing"
)

// FuzzParsePrincipalID checks that parsing never panics and that every
// accepted address round-trips through its checksummed form.
func FuzzParsePrincipalID(f *testing.F) {
	f.Add("")
	f.Add("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	f.Add("0x0000000000000000000000000000000000000000")
	f.Add("0X5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	f.Add("0x'; DROP TABLE purchases;--aaaaaaaaaaaaaa")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		p, err := ParsePrincipalID(input)
		if err != nil {
			return
		}
		if p.IsNil() {
			t.Fatal("zero address accepted")
		}
		again, err := ParsePrincipalID(p.String())
		if err != nil {
			t.Fatalf("checksummed form rejected: %v", err)
		}
		if again != p {
			t.Fatal("round trip changed address")
		}
		if strings.ToLower(p.String()) != strings.ToLower("0x"+strings.TrimSpace(input)[2:]) {
			t.Fatal("checksum changed address digits")
		}
	})
}

// FuzzParseEther checks that accepted ether values render back to the same
// wei amount.
func FuzzParseEther(f *testing.F) {
	f.Add("0.1")
	f.Add("1")
	f.Add("0.000000000000000001")
	f.Add("-1")
	f.Add("1e3")

	f.Fuzz(func(t *testing.T, input string) {
		a, err := ParseEther(input)
		if err != nil {
			return
		}
		again, err := ParseEther(a.Ether())
		if err != nil {
			t.Fatalf("rendered ether rejected: %v", err)
		}
		if !again.Equal(a) {
			t.Fatalf("round trip changed amount: %s != %s", again, a)
		}
	})
}
