package stepwise

import (
	"net/url"
	"os"
	"strings"
)

// IsDev reports whether the SDK should target the Dev server, based on the
// presence of the INNGEST_DEV environment variable.
//
// Set INNGEST_DEV to any non-empty value, or to the dev server's URL:
//
//	INNGEST_DEV=1
//	INNGEST_DEV=http://192.168.1.254:8288
func IsDev() bool {
	return os.Getenv("INNGEST_DEV") != ""
}

// DevServerURL returns the Dev server origin: the URL named by INNGEST_DEV
// if it parses as one, else the built-in default.
func DevServerURL() string {
	if dev := os.Getenv("INNGEST_DEV"); dev != "" {
		if u, err := url.Parse(dev); err == nil && u.Host != "" {
			return dev
		}
	}
	return devServerOrigin
}

// allowInBandSync reports INNGEST_ALLOW_IN_BAND_SYNC. Parsed for parity with
// the wider ecosystem; this SDK has no in-band sync path, so the value is
// never acted upon.
func allowInBandSync() bool {
	return isTruthy(os.Getenv("INNGEST_ALLOW_IN_BAND_SYNC"))
}

func isTruthy(val string) bool {
	switch strings.ToLower(val) {
	case "", "0", "false":
		return false
	default:
		return true
	}
}

func serveHostEnv() string {
	return os.Getenv("INNGEST_SERVE_HOST")
}

func servePathEnv() string {
	return os.Getenv("INNGEST_SERVE_PATH")
}

func eventKeyEnv() string {
	return os.Getenv("INNGEST_EVENT_KEY")
}

func signingKeyEnv() string {
	return os.Getenv("INNGEST_SIGNING_KEY")
}

func signingKeyFallbackEnv() string {
	return os.Getenv("INNGEST_SIGNING_KEY_FALLBACK")
}

func envNameEnv() string {
	return os.Getenv("INNGEST_ENV")
}

func apiOriginEnv() string {
	return os.Getenv("INNGEST_API_ORIGIN")
}

func eventAPIOriginEnv() string {
	return os.Getenv("INNGEST_EVENT_API_ORIGIN")
}
