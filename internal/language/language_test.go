package language

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", English},
		{"ascii", "Safety inspection report. Department: Operations.", English},
		{"malayalam", "കൊച്ചി മെട്രോ", Malayalam},
		{"hindi", "सुरक्षा निरीक्षण", Hindi},
		{"hindi before malayalam still malayalam", "सुरक्षा then കൊച്ചി", Malayalam},
		{"mixed english and hindi", "Report: सुरक्षा", Hindi},
		{"block boundary low", "ഀ", Malayalam},
		{"block boundary high", "ॿ", Hindi},
		{"just outside devanagari", "ঀ", English},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.text); got != tt.want {
				t.Errorf("Detect(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	text := "मेट्रो maintenance schedule"
	first := Detect(text)
	for i := 0; i < 100; i++ {
		if got := Detect(text); got != first {
			t.Fatalf("iteration %d: got %q, want %q", i, got, first)
		}
	}
}
