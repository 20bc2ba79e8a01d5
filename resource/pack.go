package resource

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
)

// Pack writes every regular file of fsys into a deflate compressed zip,
// storing each entry under prefix.
func Pack(w io.Writer, fsys fs.FS, prefix string) error {
	zw := zip.NewWriter(w)

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		src, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := zw.CreateHeader(&zip.FileHeader{
			Name:   prefix + p,
			Method: zip.Deflate,
		})
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("pack archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}
