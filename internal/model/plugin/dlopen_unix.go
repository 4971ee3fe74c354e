//go:build darwin || linux || freebsd

package plugin

import "github.com/ebitengine/purego"

func dlopen(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
}

func dlclose(handle uintptr) error {
	return purego.Dlclose(handle)
}

func bind(handle uintptr, name string, fptr any) error {
	sym, err := purego.Dlsym(handle, name)
	if err != nil {
		return err
	}
	purego.RegisterFunc(fptr, sym)
	return nil
}
