package httpclient

import (
	"reach/pkg/clienthints"
	"reach/pkg/useragent"
)

// Profile is the fingerprint applied to a Client's outgoing requests:
// User-Agent plus the Sec-CH-UA-* client hint headers, implementing
// spec.md §4.6's set_fingerprint(profile) capability on top of the
// clienthints device-profile catalog.
type Profile struct {
	Name     string
	Platform string

	UserAgent string

	SecChUa                string
	SecChUaMobile          string
	SecChUaPlatform        string
	SecChUaPlatformVersion string
	SecChUaArch            string
	SecChUaBitness         string
	SecChUaFullVersion     string
	SecChUaFullVersionList string

	AcceptLanguage string
}

// ExtraHeaders renders the non-empty Sec-CH-UA-* fields (and
// Accept-Language, when set) as HTTP header name/value pairs.
func (p Profile) ExtraHeaders() map[string]string {
	h := make(map[string]string)
	add := func(name, value string) {
		if value != "" {
			h[name] = value
		}
	}
	add("Sec-Ch-Ua", p.SecChUa)
	add("Sec-Ch-Ua-Mobile", p.SecChUaMobile)
	add("Sec-Ch-Ua-Platform", p.SecChUaPlatform)
	add("Sec-Ch-Ua-Platform-Version", p.SecChUaPlatformVersion)
	add("Sec-Ch-Ua-Arch", p.SecChUaArch)
	add("Sec-Ch-Ua-Bitness", p.SecChUaBitness)
	add("Sec-Ch-Ua-Full-Version", p.SecChUaFullVersion)
	add("Sec-Ch-Ua-Full-Version-List", p.SecChUaFullVersionList)
	add("Accept-Language", p.AcceptLanguage)
	return h
}

// fromDeviceProfile narrows a clienthints.DeviceProfile down to the header
// set Profile carries, discarding the preference/device/network hints that
// only matter to a live page's navigator object.
func fromDeviceProfile(dp clienthints.DeviceProfile) Profile {
	return Profile{
		Name:                   dp.Name,
		Platform:               dp.Platform,
		UserAgent:              dp.UserAgent,
		SecChUa:                dp.Hints.SecChUa,
		SecChUaMobile:          dp.Hints.SecChUaMobile,
		SecChUaPlatform:        dp.Hints.SecChUaPlatform,
		SecChUaPlatformVersion: dp.Hints.SecChUaPlatformVersion,
		SecChUaArch:            dp.Hints.SecChUaArch,
		SecChUaBitness:         dp.Hints.SecChUaBitness,
		SecChUaFullVersion:     dp.Hints.SecChUaFullVersion,
		SecChUaFullVersionList: dp.Hints.SecChUaFullVersionList,
	}
}

// ChromeWindowsDesktop returns a Chrome-on-Windows fingerprint for the
// given major version.
func ChromeWindowsDesktop(version int) Profile {
	return fromDeviceProfile(clienthints.ChromeWindowsDesktop(version))
}

// ChromeMacDesktop returns a Chrome-on-macOS fingerprint for the given
// major version.
func ChromeMacDesktop(version int) Profile {
	return fromDeviceProfile(clienthints.ChromeMacDesktop(version))
}

// ChromeLinuxDesktop returns a Chrome-on-Linux fingerprint for the given
// major version.
func ChromeLinuxDesktop(version int) Profile {
	return fromDeviceProfile(clienthints.ChromeLinuxDesktop(version))
}

// RandomProfile picks a uniformly random desktop profile out of the
// clienthints catalog, for callers that want a plausible default without
// assembling their own Profile.
func RandomProfile() Profile {
	return fromDeviceProfile(clienthints.RandomDesktopProfile())
}

// RandomUserAgent returns a standalone User-Agent string, for callers that
// only need the header and not the full Sec-CH-UA-* set (e.g. a
// plain-HTTP fetch path that never emits client hints).
func RandomUserAgent() string {
	return useragent.Random()
}
