package challenge

import "testing"

func TestDetect_KnownMarkers(t *testing.T) {
	for _, m := range Markers() {
		page := "<html><body><div>" + m + "</div></body></html>"
		if !Detect(page) {
			t.Errorf("Detect: marker %q not recognised", m)
		}
	}
}

func TestDetect_HCaptchaWidget(t *testing.T) {
	page := `<div class="hcaptcha-box"><iframe src="https://hcaptcha.com/x"></iframe></div>`
	if got := Match(page); got != "hcaptcha-box" {
		t.Errorf("Match: got %q, want %q", got, "hcaptcha-box")
	}
}

func TestDetect_NormalPage(t *testing.T) {
	page := `<html><body><table id="all_data_table"><tr><td>1</td></tr></table></body></html>`
	if Detect(page) {
		t.Error("expected no challenge on a data page")
	}
}

func TestDetect_Empty(t *testing.T) {
	if Detect("") {
		t.Error("expected no challenge on empty content")
	}
}

func TestMarkers_ReturnsCopy(t *testing.T) {
	m := Markers()
	m[0] = "changed"
	if Markers()[0] == "changed" {
		t.Error("Markers must not expose the internal slice")
	}
}
