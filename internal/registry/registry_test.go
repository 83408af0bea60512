package registry

import (
	"reflect"
	"testing"
)

func TestSiteNameResolvesCompositeProjects(t *testing.T) {
	reg := Default()
	cases := map[string]string{
		"7951-001": "Baud",
		"001":      "Baud",
		"7796":     "Meru",
		"9999":     "9999",
	}
	for in, want := range cases {
		if got := reg.SiteName(in); got != want {
			t.Errorf("SiteName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShortCode(t *testing.T) {
	if got := ShortCode("7951-083"); got != "083" {
		t.Fatalf("got %q", got)
	}
	if got := ShortCode("7571"); got != "7571" {
		t.Fatalf("got %q", got)
	}
}

func TestSignalFor(t *testing.T) {
	reg := Default()
	field, ok := reg.SignalFor(3)
	if !ok || field != "EVI_P3.ILI.EVSE_OutVoltage" {
		t.Fatalf("connector 3: %q %v", field, ok)
	}
	if _, ok := reg.SignalFor(5); ok {
		t.Fatal("connector 5 should be unmapped")
	}
}

func TestDefaultIsACopy(t *testing.T) {
	a := Default()
	a.Sites["001"] = "Changed"
	if Default().SiteName("001") != "Baud" {
		t.Fatal("Default shares its site map")
	}
}

func TestCodesKeepDeclarationOrder(t *testing.T) {
	codes := Default().Codes()
	if len(codes) != len(defaultSites) {
		t.Fatalf("got %d codes, want %d", len(codes), len(defaultSites))
	}
	if codes[0] != "7571" || codes[16] != "001" {
		t.Fatalf("unexpected order: %v", codes[:20])
	}
}

func TestCodesWithoutOrderAreLexical(t *testing.T) {
	reg := Registry{Sites: map[string]string{"120": "Twin", "015": "Twin", "7796": "Meru"}, Order: []string{"7796", "gone"}}
	got := reg.Codes()
	want := []string{"7796", "015", "120"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
