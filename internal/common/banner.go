package common

import (
	"github.com/ternarybob/banner"
)

// AppName is the display name used in the banner and version output
const AppName = "fixlimit"

// PrintBanner displays the application banner
func PrintBanner(version string) {
	banner.PrintSimple(AppName, version)
}
