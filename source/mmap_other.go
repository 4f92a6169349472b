//go:build !unix

package source

func openMmap(path string) (Source, error) {
	return nil, &MapError{Path: path, Err: ErrMmapUnsupported}
}
