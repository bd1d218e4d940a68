package parser

// Fingerprint counts the structured result markers present in a reading.
// Two readings with equal fingerprints and equal text show the same chat
// state, which is how a stale reading is recognized.
type Fingerprint struct {
	Success  int `json:"success"`
	Maintain int `json:"maintain"`
	Destroy  int `json:"destroy"`
	Sell     int `json:"sell"`
}

// Total is the number of markers of any kind.
func (f Fingerprint) Total() int {
	return f.Success + f.Maintain + f.Destroy + f.Sell
}

// FingerprintOf counts the markers in text.
func FingerprintOf(text string) Fingerprint {
	text = normalize(text)
	return Fingerprint{
		Success:  len(reSuccess.FindAllStringIndex(text, -1)),
		Maintain: len(reMaintain.FindAllStringIndex(text, -1)),
		Destroy:  len(reDestroy.FindAllStringIndex(text, -1)),
		Sell:     len(reSell.FindAllStringIndex(text, -1)),
	}
}

// IsStale reports whether after shows nothing new relative to before.
// Both the marker counts and the raw text must be unchanged.
func IsStale(before, after string) bool {
	return FingerprintOf(before) == FingerprintOf(after) && before == after
}
