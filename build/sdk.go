package build

import (
	"os"
	"path/filepath"
)

// goloader needs the internals of the go sdk copied under a path importable by its own build.
const (
	sdkSource = "src/cmd/internal"
	sdkTarget = "src/cmd/objfile"
)

// PrepareSDK copies the sdk internals goloader depends on, returning whether anything was copied.
func PrepareSDK(goroot string) (bool, error) {
	src, dir := filepath.Join(goroot, sdkSource), filepath.Join(goroot, sdkTarget)
	if _, err := os.Stat(dir); err == nil {
		log.Infof("did nothing for %s", dir)
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := CopyDir(src, dir, nil); err != nil {
		return false, err
	}
	log.Infof("copied %s from %s", dir, src)
	return true, nil
}

// CleanSDK removes what PrepareSDK copied, returning whether anything was removed.
func CleanSDK(goroot string) (bool, error) {
	dir := filepath.Join(goroot, sdkTarget)
	if _, err := os.Stat(dir); err != nil {
		log.Infof("did nothing for %s", dir)
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	log.Infof("removed %s", dir)
	return true, nil
}
