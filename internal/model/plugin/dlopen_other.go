//go:build !(darwin || linux || freebsd)

package plugin

import "errors"

var errUnsupported = errors.New("shared-library models are not supported on this platform")

func dlopen(string) (uintptr, error) { return 0, errUnsupported }

func dlclose(uintptr) error { return nil }

func bind(uintptr, string, any) error { return errUnsupported }
