package sample

import (
	"fmt"
	"time"
)

var renders int

// RenderV2 is swapped in for the host symbol render.
func RenderV2() string {
	renders++
	return fmt.Sprintf("<view version=2 renders=%d at=%s/>", renders, time.Now().Format(time.TimeOnly))
}

// HotManifest lists alternating old and new symbol names.
func HotManifest() []string {
	return []string{"render", "sample.RenderV2"}
}
