package agent

import (
	"fmt"
	"math/rand"
)

// Fingerprint is the browser identity an account keeps for the whole life of
// its session. All requests made on behalf of the account reuse it, so the
// platform sees one consistent mobile device instead of a different client on
// every call.
type Fingerprint struct {
	UserAgent      string `json:"userAgent"`
	Platform       string `json:"platform"`
	Vendor         string `json:"vendor"`
	DeviceCategory string `json:"deviceCategory"`
	ScreenWidth    int    `json:"screenWidth"`
	ScreenHeight   int    `json:"screenHeight"`
	ViewportWidth  int    `json:"viewportWidth"`
	ViewportHeight int    `json:"viewportHeight"`
	PixelRatio     float64 `json:"pixelRatio"`
	ConnectionType string `json:"connectionType,omitempty"`
	DownlinkMbps   float64 `json:"downlink,omitempty"`
	RTTMs          int    `json:"rtt,omitempty"`
}

var (
	effectiveTypes = []string{"3g", "4g", "4g", "4g"}
	dprChoices     = []float64{2, 2.5, 3, 3.5}
)

func randomBuildToken(n int) string {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = chars[rand.Intn(len(chars))]
	}
	return string(b)
}

func randomAndroidUA() (ua, platform string) {
	androidVer := rand.Intn(8) + 9
	architectures := []string{"arm64-v8a", "armeabi-v7a", "x86_64"}
	arch := architectures[rand.Intn(len(architectures))]
	maj := rand.Intn(11) + 120
	ua = fmt.Sprintf(
		"Mozilla/5.0 (Linux; Android %d; SM-A%03d; %s Build/%s) "+
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.%d.0 Mobile Safari/537.36",
		androidVer, rand.Intn(500)+100, arch, randomBuildToken(5),
		maj, rand.Intn(6000)+1000,
	)
	return ua, "Linux armv8l"
}

func randomIOSUA() (ua, platform string) {
	maj := rand.Intn(5) + 14
	min := rand.Intn(7)
	ua = fmt.Sprintf(
		"Mozilla/5.0 (iPhone; CPU iPhone OS %d_%d like Mac OS X) "+
			"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%d.%d Mobile/%s Safari/604.1",
		maj, min, maj, rand.Intn(3), randomBuildToken(6),
	)
	return ua, "iPhone"
}

func randomSamsungUA() (ua, platform string) {
	androidVer := rand.Intn(8) + 9
	sbMaj := rand.Intn(8) + 18
	ua = fmt.Sprintf(
		"Mozilla/5.0 (Linux; Android %d; SAMSUNG SM-G%03d) "+
			"AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/%d.%d "+
			"Chrome/%d.0.%d.0 Mobile Safari/537.36",
		androidVer, rand.Intn(80)+900, sbMaj, rand.Intn(10),
		rand.Intn(11)+115, rand.Intn(6000)+1000,
	)
	return ua, "Linux armv8l"
}

// Random generates a fresh mobile fingerprint. The screen is picked from
// common 16:9-ish phone resolutions and the viewport is derived from it so
// the pair never contradicts itself.
func Random() Fingerprint {
	var ua, platform string
	switch rand.Intn(3) {
	case 0:
		ua, platform = randomAndroidUA()
	case 1:
		ua, platform = randomIOSUA()
	default:
		ua, platform = randomSamsungUA()
	}

	vendor := "Google Inc."
	if platform == "iPhone" {
		vendor = "Apple Computer, Inc."
	}

	width := rand.Intn(80) + 360
	height := rand.Intn(276) + 640

	return Fingerprint{
		UserAgent:      ua,
		Platform:       platform,
		Vendor:         vendor,
		DeviceCategory: "mobile",
		ScreenWidth:    width,
		ScreenHeight:   height,
		ViewportWidth:  width,
		ViewportHeight: height - rand.Intn(120) - 56,
		PixelRatio:     dprChoices[rand.Intn(len(dprChoices))],
		ConnectionType: effectiveTypes[rand.Intn(len(effectiveTypes))],
		DownlinkMbps:   float64(rand.Intn(99)+1) / 10,
		RTTMs:          rand.Intn(251) + 50,
	}
}

// IsZero reports whether the fingerprint has never been generated. Used to
// decide when a stored account needs a new identity.
func (f Fingerprint) IsZero() bool {
	return f.UserAgent == ""
}
