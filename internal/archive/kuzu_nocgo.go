//go:build !cgo

package archive

import "errors"

func openKuzu(string) (Store, error) {
	return nil, errors.New("archive: kuzu driver requires a cgo build")
}
